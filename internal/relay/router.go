package relay

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/foundrybridge/relay/internal/logger"
	"github.com/foundrybridge/relay/internal/wire"
)

// routeInbound takes a non-keepalive message from a peer session and
// completes the matching waiter. Whether the waiter is a parked HTTP
// handler or a forwarded-in request makes no difference here: Deliver
// hides the sink.
func (s *Server) routeInbound(sess *PeerSession, env wire.Envelope, msg map[string]any) {
	if env.RequestID == "" {
		// Unsolicited event messages are not correlated; drop them.
		logger.Debug("unsolicited message", "clientId", sess.ClientID, "type", env.Type)
		return
	}
	w := s.Pending.Take(env.RequestID)
	if w == nil {
		logger.Debug("no waiter for response", "clientId", sess.ClientID,
			"requestId", env.RequestID, "type", env.Type)
		return
	}
	w.Deliver(Outcome{Payload: msg})
}

// activateSheetTab injects a loader that activates the requested tab in a
// rendered sheet document. Best-effort: anything unparseable returns the
// HTML unchanged.
func activateSheetTab(html, tab string) string {
	idx, err := strconv.Atoi(tab)
	if err != nil || idx < 0 {
		return html
	}
	script := fmt.Sprintf(`<script>document.addEventListener("DOMContentLoaded",function(){`+
		`var tabs=document.querySelectorAll(".sheet-tabs .item, nav.tabs .item");`+
		`if(tabs[%d]){tabs[%d].click();}});</script>`, idx, idx)
	if i := strings.LastIndex(html, "</body>"); i >= 0 {
		return html[:i] + script + html[i:]
	}
	return html + script
}

// decodeDataURL splits a data URL ("data:<mime>;base64,<payload>") into
// its media type and decoded bytes.
func decodeDataURL(dataURL string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return "", nil, fmt.Errorf("not a data URL")
	}
	rest := dataURL[len("data:"):]
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("unsupported data URL encoding")
	}
	mimeType = strings.TrimSuffix(meta, ";base64")
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}
	return mimeType, data, nil
}
