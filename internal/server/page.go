package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/mermaidlive/internal/renderer"
	"github.com/conneroisu/mermaidlive/internal/websocket"
)

type pageData struct {
	Title    string
	Source   string
	ReadOnly bool
	Options  renderer.Options
	Status   websocket.UpdateMessage
}

// previewPage renders the editor and preview panes. The initial status is
// embedded so the page is useful before the socket connects.
func previewPage(data pageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		initial, err := json.Marshal(data.Status)
		if err != nil {
			return err
		}

		var b strings.Builder
		b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
		fmt.Fprintf(&b, "<title>%s</title>\n", templ.EscapeString(data.Title))
		b.WriteString("<style>" + pageStyle + "</style>\n</head>\n<body>\n")

		b.WriteString("<header>\n")
		fmt.Fprintf(&b, "<h1>%s</h1>\n", templ.EscapeString(data.Title))
		b.WriteString("<label>Theme <select id=\"theme\">")
		for _, theme := range renderer.Themes {
			selected := ""
			if theme == data.Options.Theme {
				selected = " selected"
			}
			fmt.Fprintf(&b, "<option value=\"%s\"%s>%s</option>", templ.EscapeString(theme), selected, templ.EscapeString(theme))
		}
		b.WriteString("</select></label>\n")
		b.WriteString("<button id=\"render\" type=\"button\" title=\"Ctrl+Enter\">Render</button>\n")
		fmt.Fprintf(&b, "<span id=\"state\" class=\"state\">%s</span>\n", templ.EscapeString(data.Status.State))
		b.WriteString("</header>\n<main>\n")

		readOnly := ""
		if data.ReadOnly {
			readOnly = " readonly"
		}
		fmt.Fprintf(&b, "<textarea id=\"source\" spellcheck=\"false\"%s>%s</textarea>\n", readOnly, templ.EscapeString(data.Source))
		b.WriteString("<section id=\"preview\"></section>\n")
		b.WriteString("</main>\n<pre id=\"error\" hidden></pre>\n")

		fmt.Fprintf(&b, "<div id=\"initial-status\" data-status=\"%s\" hidden></div>\n", templ.EscapeString(string(initial)))
		b.WriteString("<script>" + pageScript + "</script>\n</body>\n</html>\n")

		_, err = io.WriteString(w, b.String())
		return err
	})
}

const pageStyle = `
body{margin:0;font-family:system-ui,sans-serif;display:flex;flex-direction:column;height:100vh}
header{display:flex;gap:1rem;align-items:center;padding:.5rem 1rem;border-bottom:1px solid #ddd}
h1{font-size:1rem;margin:0;flex:1}
main{display:flex;flex:1;min-height:0}
#source{width:40%;font-family:ui-monospace,monospace;font-size:14px;border:0;border-right:1px solid #ddd;padding:1rem;resize:none}
#preview{flex:1;overflow:auto;padding:1rem;display:flex;justify-content:center;align-items:flex-start}
#preview.stale{opacity:.5}
#error{margin:0;padding:.5rem 1rem;background:#fdecea;color:#611a15;white-space:pre-wrap}
.state{font-size:.8rem;padding:.1rem .5rem;border-radius:.5rem;background:#eee}
.state.ready{background:#e6f4ea}.state.error{background:#fdecea}.state.rendering{background:#fff4e5}
`

const pageScript = `
(function(){
  const source=document.getElementById("source");
  const preview=document.getElementById("preview");
  const stateEl=document.getElementById("state");
  const errorEl=document.getElementById("error");
  const theme=document.getElementById("theme");
  let socket;

  function show(msg){
    if(msg.type==="error"){errorEl.textContent=msg.error;errorEl.hidden=false;return;}
    if(msg.type!=="status")return;
    stateEl.textContent=msg.state;
    stateEl.className="state "+msg.state;
    preview.classList.toggle("stale",msg.state==="stale");
    if(msg.content){preview.innerHTML=msg.content;}
    else if(msg.url){
      preview.innerHTML="";
      const el=msg.url.indexOf("format=pdf")>=0?document.createElement("object"):document.createElement("img");
      if(el.tagName==="OBJECT"){el.data=msg.url;el.type="application/pdf";el.style.width="100%";el.style.height="100%";}
      else{el.src=msg.url;}
      preview.appendChild(el);
    }else if(msg.state==="idle"){preview.innerHTML="";}
    errorEl.hidden=!msg.error;
    errorEl.textContent=msg.error||"";
    if(msg.diagnostic){errorEl.textContent="Line "+msg.diagnostic.line+": "+errorEl.textContent;}
  }

  function send(msg){if(socket&&socket.readyState===WebSocket.OPEN)socket.send(JSON.stringify(msg));}

  function connect(){
    const scheme=location.protocol==="https:"?"wss://":"ws://";
    socket=new WebSocket(scheme+location.host+"/ws");
    socket.onmessage=function(ev){try{show(JSON.parse(ev.data));}catch(e){}};
    socket.onclose=function(){setTimeout(connect,1000);};
  }

  source.addEventListener("input",function(){send({type:"source",content:source.value});});
  source.addEventListener("keydown",function(ev){if(ev.key==="Enter"&&(ev.ctrlKey||ev.metaKey)){ev.preventDefault();send({type:"trigger"});}});
  document.getElementById("render").addEventListener("click",function(){send({type:"trigger"});});
  theme.addEventListener("change",function(){send({type:"options",options:{theme:theme.value}});});

  show(JSON.parse(document.getElementById("initial-status").dataset.status));
  connect();
})();
`
