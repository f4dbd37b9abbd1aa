package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"

	"github.com/a-h/templ"
)

// Session is the active-session view: the mirrored avatar feed next to the
// current slide, with the microphone toggle in the bottom bar. The initial
// state is rendered server-side; the inline script keeps it live from the
// session websocket.
func Session(state DisplayState) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		initial, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Present This - %s</title>
    <link rel="stylesheet" href="/static/styles.css"/>
  </head>
  <body class="session">
    <main class="session-shell">
      <div class="session-main">
        <section class="avatar-panel">
          <div class="avatar-surface mirrored" id="avatarSurface">
            <div class="avatar-loading" id="avatarLoading">
              <div class="spinner"></div>
              <span>Loading Avatar...</span>
            </div>
            <video id="avatarVideo" autoplay playsinline muted class="hidden"></video>
            <div class="agent-badge hidden" id="agentBadge">&#9679; AI Connected</div>
          </div>
        </section>
        <section class="slide-panel">
          <img id="slideImage" class="slide-image hidden" alt="Current slide"/>
          <div class="slide-nav">
            <button id="prevSlide" class="secondary">Previous</button>
            <span id="slideCounter">- / -</span>
            <button id="nextSlide" class="secondary">Next</button>
          </div>
        </section>
      </div>
      <footer class="session-bar">
        <div class="bar-left">
          <button id="micToggle" class="secondary" disabled>Microphone Off</button>
          <span id="agentStatus" class="muted">Waiting for AI...</span>
        </div>
        <button id="leaveRoom" class="danger">Leave Room</button>
      </footer>
    </main>

    <script>
      let state = %s;
`, html.EscapeString(state.RoomName), initial); err != nil {
			return err
		}
		_, err = io.WriteString(w, `
      const slideImage = document.getElementById("slideImage");
      const slideCounter = document.getElementById("slideCounter");
      const avatarLoading = document.getElementById("avatarLoading");
      const agentBadge = document.getElementById("agentBadge");
      const agentStatus = document.getElementById("agentStatus");
      const micToggle = document.getElementById("micToggle");

      function render() {
        if (state.slide_url) {
          if (slideImage.getAttribute("src") !== state.slide_url) {
            slideImage.setAttribute("src", state.slide_url);
          }
          slideImage.classList.remove("hidden");
          slideCounter.textContent = state.slide_number + " / " + state.slide_count;
        }
        avatarLoading.classList.toggle("hidden", state.avatar_ready);
        document.getElementById("avatarVideo").classList.toggle("hidden", !state.avatar_ready);
        agentBadge.classList.toggle("hidden", !state.agent_connected);
        agentStatus.textContent = state.agent_connected ? "AI Presenter Active" : "Waiting for AI...";
        micToggle.disabled = state.filter_state !== "ready";
        micToggle.textContent = state.mic_enabled ? "Microphone On" : "Microphone Off";
      }
      render();

      const proto = location.protocol === "https:" ? "wss://" : "ws://";
      const ws = new WebSocket(proto + location.host + "/ws/session");
      ws.binaryType = "arraybuffer";
      ws.addEventListener("message", (event) => {
        if (typeof event.data !== "string") return;
        const msg = JSON.parse(event.data);
        if (msg.type === "view" && !msg.connected) {
          location.reload();
          return;
        }
        if (msg.type === "display") {
          state = msg.display;
          render();
        }
      });

      micToggle.addEventListener("click", async () => {
        micToggle.disabled = true;
        try {
          const res = await fetch("/api/session/microphone", {
            method: "POST",
            headers: { "Content-Type": "application/json" },
            body: JSON.stringify({ enabled: !state.mic_enabled })
          });
          const data = await res.json();
          if (res.ok) {
            state.mic_enabled = data.enabled;
            state.filter_state = data.filter_state;
          }
        } finally {
          render();
        }
      });

      async function navigate(direction) {
        await fetch("/api/session/navigate", {
          method: "POST",
          headers: { "Content-Type": "application/json" },
          body: JSON.stringify({ direction })
        });
      }
      document.getElementById("prevSlide").addEventListener("click", () => navigate("previous"));
      document.getElementById("nextSlide").addEventListener("click", () => navigate("next"));

      document.getElementById("leaveRoom").addEventListener("click", async () => {
        await fetch("/api/session/disconnect", { method: "POST" });
        location.reload();
      });

      // Microphone capture: 48kHz mono PCM16 frames over the websocket. The
      // server runs the noise filter, so frames flow even while the mic is
      // off to let calibration finish.
      navigator.mediaDevices.getUserMedia({ audio: true }).then((stream) => {
        const audioCtx = new AudioContext({ sampleRate: 48000 });
        const source = audioCtx.createMediaStreamSource(stream);
        const processor = audioCtx.createScriptProcessor(1024, 1, 1);
        source.connect(processor);
        processor.connect(audioCtx.destination);
        processor.onaudioprocess = (event) => {
          if (ws.readyState !== WebSocket.OPEN) return;
          const input = event.inputBuffer.getChannelData(0);
          const pcm = new Int16Array(input.length);
          for (let i = 0; i < input.length; i++) {
            const s = Math.max(-1, Math.min(1, input[i]));
            pcm[i] = s < 0 ? s * 0x8000 : s * 0x7fff;
          }
          ws.send(pcm.buffer);
        };
      }).catch((err) => {
        console.error("microphone capture unavailable:", err);
      });
    </script>
  </body>
</html>`)
		return err
	})
}
