package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/agentcontext/core"
)

// maxPayload truncates structured payloads in summaries.
const maxPayload = 4096

// Summary renders the human-readable audit text of a message. It is meant
// for review, not replay: blobs are described rather than embedded.
func Summary(msg core.Message, sessionID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", sessionID)
	fmt.Fprintf(&b, "Message: %s\n", msg.ID)
	fmt.Fprintf(&b, "Role:    %s\n", msg.Role)
	if model, ok := msg.Model.Get(); ok {
		fmt.Fprintf(&b, "Model:   %s\n", model)
	}
	fmt.Fprintf(&b, "Time:    %s\n\n", msg.CreatedAt.UTC().Format(time.RFC3339Nano))

	for _, p := range msg.Parts {
		switch part := p.(type) {
		case core.TextPart:
			b.WriteString(part.Text)
			b.WriteString("\n")
		case core.BlobPart:
			fmt.Fprintf(&b, "[blob %s, %d bytes]\n", part.MimeType, len(part.Data))
		case core.DataPart:
			fmt.Fprintf(&b, "[data] %s\n", payload(part.Value))
		case core.FunctionCallPart:
			fc := part.FunctionCall
			fmt.Fprintf(&b, "[call %s id=%s] %s\n", fc.Name, fc.ID, truncate(fc.Arguments))
		case core.FunctionResponsePart:
			fr := part.FunctionResponse
			fmt.Fprintf(&b, "[result %s id=%s status=%s]", fr.Name, fr.ID, fr.Status)
			if fr.Error != "" {
				fmt.Fprintf(&b, " error: %s", fr.Error)
			}
			if fr.Response != nil {
				fmt.Fprintf(&b, " %s", payload(fr.Response))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func payload(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return truncate(fmt.Sprintf("%v", v))
	}
	return truncate(string(data))
}

func truncate(s string) string {
	if len(s) <= maxPayload {
		return s
	}
	cut := maxPayload
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... (%d bytes truncated)", len(s)-cut)
}
