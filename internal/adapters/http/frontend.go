package http

import (
	"net/http"
)

// frontendHTML is a single-page job dashboard. It lists recent jobs,
// submits scene keys and triggers storage scans through the JSON API.
const frontendHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Flotsam - Debris Detection Jobs</title>
    <style>
        :root {
            --primary: #0e7490;
            --success: #16a34a;
            --error: #dc2626;
            --warning: #d97706;
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --muted: #64748b;
            --border: #e2e8f0;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               background: var(--bg); color: var(--text); padding: 1rem; }
        main { max-width: 960px; margin: 0 auto; }
        h1 { font-size: 1.4rem; margin-bottom: 1rem; }
        .card { background: var(--card); border: 1px solid var(--border); border-radius: 8px;
                padding: 1rem; margin-bottom: 1rem; }
        form { display: flex; gap: .5rem; flex-wrap: wrap; }
        input, select { flex: 1; min-width: 12rem; padding: .5rem; border: 1px solid var(--border);
                        border-radius: 6px; }
        button { padding: .5rem 1rem; border: 0; border-radius: 6px; background: var(--primary);
                 color: #fff; cursor: pointer; }
        table { width: 100%; border-collapse: collapse; font-size: .9rem; }
        th, td { text-align: left; padding: .4rem; border-bottom: 1px solid var(--border); }
        .status { font-weight: 600; }
        .COMPLETED { color: var(--success); }
        .FAILED { color: var(--error); }
        .IN_PROGRESS { color: var(--warning); }
        .PENDING { color: var(--muted); }
        #message { margin-top: .5rem; color: var(--muted); min-height: 1.2rem; }
    </style>
</head>
<body>
<main>
    <h1>Flotsam debris detection</h1>
    <section class="card">
        <form id="submit">
            <input id="scene" placeholder="scenes/S2B_MSIL2A_20240301T021509_T51PTS.tif" required>
            <button type="submit">Submit scene</button>
            <button type="button" id="sync">Scan storage</button>
        </form>
        <div id="message"></div>
    </section>
    <section class="card">
        <form id="filter">
            <select id="status">
                <option value="">All jobs</option>
                <option>PENDING</option>
                <option>IN_PROGRESS</option>
                <option>COMPLETED</option>
                <option>FAILED</option>
            </select>
        </form>
        <table>
            <thead><tr><th>Scene</th><th>Status</th><th>Vectors</th><th>Created</th><th></th></tr></thead>
            <tbody id="jobs"></tbody>
        </table>
    </section>
</main>
<script>
(function () {
    const message = document.getElementById('message');
    const statusFilter = document.getElementById('status');

    function escapeHtml(str) {
        return String(str == null ? '' : str)
            .replace(/&/g, '&amp;').replace(/</g, '&lt;').replace(/>/g, '&gt;')
            .replace(/"/g, '&quot;').replace(/'/g, '&#39;');
    }

    async function request(method, url, body) {
        const res = await fetch(url, {
            method: method,
            headers: body ? { 'Content-Type': 'application/json' } : {},
            body: body ? JSON.stringify(body) : undefined,
        });
        const data = await res.json();
        if (!res.ok) throw new Error(data.message || res.statusText);
        return data;
    }

    async function refresh() {
        const status = statusFilter.value;
        const data = await request('GET', '/api/v1/jobs?limit=50' + (status ? '&status=' + status : ''));
        document.getElementById('jobs').innerHTML = data.jobs.map(function (job) {
            const link = job.status === 'COMPLETED'
                ? '<a href="/api/v1/jobs/' + encodeURIComponent(job.id) + '/vectors">GeoJSON</a>'
                : escapeHtml(job.error);
            return '<tr><td>' + escapeHtml(job.scene_key) + '</td>' +
                '<td class="status ' + escapeHtml(job.status) + '">' + escapeHtml(job.status) + '</td>' +
                '<td>' + job.vector_count + '</td>' +
                '<td>' + new Date(job.created_at).toLocaleString() + '</td>' +
                '<td>' + link + '</td></tr>';
        }).join('');
    }

    document.getElementById('submit').addEventListener('submit', async function (e) {
        e.preventDefault();
        try {
            const job = await request('POST', '/api/v1/jobs', { scene_key: document.getElementById('scene').value });
            message.textContent = 'Job ' + job.id + ' accepted';
            refresh();
        } catch (err) {
            message.textContent = err.message;
        }
    });

    document.getElementById('sync').addEventListener('click', async function () {
        try {
            const result = await request('POST', '/api/v1/sync');
            message.textContent = result.scenes_found + ' scenes found, ' + result.jobs_submitted + ' jobs submitted';
            refresh();
        } catch (err) {
            message.textContent = err.message;
        }
    });

    statusFilter.addEventListener('change', refresh);
    refresh();
    setInterval(refresh, 5000);
})();
</script>
</body>
</html>`

// handleFrontend serves the job dashboard.
func (s *Server) handleFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(frontendHTML))
}
