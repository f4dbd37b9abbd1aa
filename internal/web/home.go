package web

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Home is the idle/upload view: pick a deck, start the presentation. The
// selected file stays in the input across failed attempts so a retry needs no
// re-selection.
func Home(state UploadState) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Present This</title>
    <link rel="stylesheet" href="/static/styles.css"/>
  </head>
  <body class="welcome">
    <main class="shell center">
      <section class="panel upload-panel">
        <h1>Present This</h1>
        <p>Upload a slide deck and an AI presenter will walk you through it.</p>
        <input type="file" id="deckInput" class="hidden" accept=".ppt,.pptx,.pdf"/>
        <button id="pickFile" class="secondary">Upload File</button>
        <p id="fileName" class="file-name"></p>
        <button id="startPresentation" class="primary">Start Presentation</button>
        <div id="uploadStatus" class="result"></div>
      </section>
    </main>

    <script>
      const deckInput = document.getElementById("deckInput");
      const pickFile = document.getElementById("pickFile");
      const fileName = document.getElementById("fileName");
      const startBtn = document.getElementById("startPresentation");
      const status = document.getElementById("uploadStatus");

      const proto = location.protocol === "https:" ? "wss://" : "ws://";
      const ws = new WebSocket(proto + location.host + "/ws/session");
      ws.addEventListener("message", (event) => {
        if (typeof event.data !== "string") return;
        const msg = JSON.parse(event.data);
        if (msg.type === "view" && msg.connected) {
          location.reload();
          return;
        }
        if (msg.type === "upload") {
          renderUpload(msg.upload);
        }
      });

      function renderUpload(upload) {
        if (!upload) return;
        if (upload.phase === "uploading") {
          status.textContent = "Uploading... " + upload.percent + "%";
        } else if (upload.phase === "processing") {
          status.textContent = "Processing slides...";
        } else if (upload.phase === "error") {
          status.textContent = upload.message || "Upload failed.";
          startBtn.disabled = false;
        } else {
          status.textContent = "";
        }
      }

      pickFile.addEventListener("click", () => deckInput.click());
      deckInput.addEventListener("change", () => {
        const file = deckInput.files && deckInput.files[0];
        fileName.textContent = file ? file.name : "";
      });

      startBtn.addEventListener("click", async () => {
        const file = deckInput.files && deckInput.files[0];
        if (!file) {
          status.textContent = "Select a slide deck first.";
          return;
        }
        startBtn.disabled = true;
        status.textContent = "Uploading... 0%";
        const form = new FormData();
        form.append("file", file);
        try {
          const res = await fetch("/api/presentations", { method: "POST", body: form });
          const data = await res.json();
          if (!res.ok) {
            status.textContent = data.error || "Upload failed.";
            startBtn.disabled = false;
            return;
          }
          location.reload();
        } catch (e) {
          status.textContent = "Upload failed.";
          startBtn.disabled = false;
        }
      });
    </script>
  </body>
</html>`)
		return err
	})
}
