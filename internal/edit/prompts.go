package edit

import "fmt"

const editSystemPrompt = `You are a dictation editing assistant.
Apply the instruction to the content and return ONLY the corrected text.
Do not add commentary, quotes, or markdown.
Preserve the original capitalisation unless the instruction says otherwise.`

// editExamples are few-shot (content, instruction, corrected) triples.
var editExamples = []struct {
	content     string
	instruction string
	corrected   string
}{
	{
		content:     "I met with jon yesterday to talk about the budget.",
		instruction: "capitalize the name",
		corrected:   "I met with Jon yesterday to talk about the budget.",
	},
	{
		content:     "Please send the report to Sarah by friday.",
		instruction: "change friday to monday",
		corrected:   "Please send the report to Sarah by Monday.",
	},
	{
		content:     "The meeting is at 3 PM in the main conference room.",
		instruction: "delete the location",
		corrected:   "The meeting is at 3 PM.",
	},
}

const fixSystemPrompt = `You clean up dictated text.
Remove filler words and disfluencies, and apply any edit requests spoken
inline in the text. Return ONLY the cleaned text. Do not invent new
information.`

// fixExamples are few-shot (raw dictation, cleaned) pairs.
var fixExamples = []struct {
	raw     string
	cleaned string
}{
	{
		raw:     "So um I think we should, we should probably ship it on on Tuesday.",
		cleaned: "I think we should probably ship it on Tuesday.",
	},
	{
		raw:     "Send it to Bob no wait send it to Alice before the standup.",
		cleaned: "Send it to Alice before the standup.",
	},
	{
		raw:     "The uh quarterly numbers look look pretty good overall.",
		cleaned: "The quarterly numbers look pretty good overall.",
	},
}

// editRequest builds the few-shot request for a targeted edit.
func editRequest(content, command string, temperature float64, maxTokens int) CompletionRequest {
	messages := make([]Message, 0, 2*len(editExamples)+1)
	for _, ex := range editExamples {
		messages = append(messages,
			Message{Role: "user", Content: formatEditInput(ex.content, ex.instruction)},
			Message{Role: "assistant", Content: ex.corrected},
		)
	}
	messages = append(messages, Message{Role: "user", Content: formatEditInput(content, command)})
	return CompletionRequest{
		System:      editSystemPrompt,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// fixRequest builds the few-shot request for disfluency cleanup.
func fixRequest(content string, temperature float64, maxTokens int) CompletionRequest {
	messages := make([]Message, 0, 2*len(fixExamples)+1)
	for _, ex := range fixExamples {
		messages = append(messages,
			Message{Role: "user", Content: ex.raw},
			Message{Role: "assistant", Content: ex.cleaned},
		)
	}
	messages = append(messages, Message{Role: "user", Content: content})
	return CompletionRequest{
		System:      fixSystemPrompt,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

func formatEditInput(content, instruction string) string {
	return fmt.Sprintf("Content: %s\nInstruction: %s", content, instruction)
}
