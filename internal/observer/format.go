package observer

import "strings"

// FormatContext renders st as the prompt fragment injected into the
// system prompt. Observation text is used as-is; callers filter it first.
func FormatContext(st State) string {
	var sb strings.Builder
	sb.WriteString("<observer-context>\n")
	if st.CurrentTask != "" {
		sb.WriteString("<current-task>\n")
		sb.WriteString(st.CurrentTask)
		sb.WriteString("\n</current-task>\n")
	}
	if st.SuggestedResponse != nil && *st.SuggestedResponse != "" {
		sb.WriteString("<suggested-response>\n")
		sb.WriteString(*st.SuggestedResponse)
		sb.WriteString("\n</suggested-response>\n")
	}
	sb.WriteString("<observations>\n")
	sb.WriteString(st.ObservationsText)
	sb.WriteString("\n</observations>\n")
	sb.WriteString("</observer-context>\n\n")
	sb.WriteString("Reference specific details from these observations when they are relevant to the conversation.\n")
	sb.WriteString("If observations conflict, prefer the most recent information.")
	return sb.String()
}
