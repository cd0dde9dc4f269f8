package server

// homePageTemplate is the HTML for the gateway home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Contracts Gateway</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Contracts Gateway</h1>
  <p class="meta">Registered service contracts and gateway health.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>COMMS: {{if .Health.Checks.Comms}}<span class="stat">OK</span>{{else}}<span class="error">Disconnected</span>{{end}}</p>
    {{with .Database}}<p>Database: {{if eq . "OK"}}<span class="stat">OK</span>{{else}}<span class="error">Failed</span>{{end}}</p>{{end}}
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Services</h2>
    {{if not .Services}}
    <p>No services registered.</p>
    {{else}}
    <p>Total services: <span class="stat">{{len .Services}}</span></p>
    <table>
      <thead>
        <tr><th>Service</th><th>Version</th><th>Subject</th><th>Methods</th></tr>
      </thead>
      <tbody>
        {{range .Services}}
        <tr>
          <td><a href="/service/{{.Name}}">{{.Name}}</a></td>
          <td>{{if .Version}}{{.Version}}{{else}}unversioned{{end}}</td>
          <td><code>{{.Subject}}</code></td>
          <td>{{.Methods}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// serviceDetailPageTemplate is the HTML for a single service contract.
const serviceDetailPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Name}} – Contracts Gateway</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; width: 140px; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 0.5rem; }
    section { margin-bottom: 2rem; }
    pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; font-size: 0.85rem; margin: 0.25rem 0; border: 1px solid #eee; }
    .back { margin-bottom: 1rem; }
    .actions { margin: 1rem 0; }
    .btn { display: inline-block; padding: 0.5rem 1rem; background: #0066cc; color: #fff; text-decoration: none; border-radius: 4px; }
    .btn:hover { background: #0052a3; }
  </style>
</head>
<body>
  <p class="back"><a href="/">← Back to services</a></p>
  <h1>{{.Name}}</h1>
  {{if .Description}}<p class="meta">{{.Description}}</p>{{end}}
  <p class="actions"><a href="/service/{{.Name}}/docs" class="btn">View API (Swagger)</a></p>

  <section>
    <h2>Details</h2>
    <table>
      <tr><th>Service</th><td>{{.Name}}</td></tr>
      <tr><th>Version</th><td>{{if .Version}}{{.Version}}{{else}}unversioned{{end}}</td></tr>
      <tr><th>Subject</th><td><code>{{.Subject}}</code></td></tr>
    </table>
  </section>

  <section>
    <h2>Methods</h2>
    {{if not .Methods}}
    <p>No methods defined.</p>
    {{else}}
    {{range .Methods}}
    <h3>{{.Name}}</h3>
    <pre>{{.Name}} : {{.Signature}}</pre>
    <p><strong>Mode:</strong> {{.Mode}}</p>
    {{if .Description}}<p>{{.Description}}</p>{{end}}
    {{end}}
    {{end}}
  </section>

  {{if .Types}}
  <section>
    <h2>Types</h2>
    {{range .Types}}
    <pre>type {{.Name}} = {{.Expanded}}</pre>
    {{end}}
  </section>
  {{end}}
</body>
</html>
`

// swaggerUIPage is the HTML that embeds Swagger UI from CDN and loads the OpenAPI spec.
const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>API – {{.Name}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        url: "{{.SpecURL}}",
        dom_id: "#swagger-ui",
        presets: [
          SwaggerUIBundle.presets.apis,
          SwaggerUIBundle.SwaggerUIStandalonePreset
        ]
      });
    };
  </script>
</body>
</html>
`
