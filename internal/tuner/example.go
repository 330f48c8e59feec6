package tuner

import "fmt"

// SystemPrompt opens every fine-tuning record.
const SystemPrompt = "You are a helpful assistant."

// Answers for human and AI suffixes.
const (
	AnswerHuman = "Y"
	AnswerAI    = "N"
)

// Message is one chat turn of a fine-tuning record.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Example is one JSONL fine-tuning record.
type Example struct {
	Messages []Message `json:"messages"`
}

// Instruction asks whether suffix is a human continuation of prefix. ratio is
// the number of AI examples emitted per human example.
func Instruction(ratio int, prefix, suffix string) string {
	return fmt.Sprintf(
		"I will give you a prefix and a suffix. The prefix is taken from human writing. "+
			"The suffix is either written by a human or is an AI completion of the prefix. "+
			"Note that, for every human example I will ask you about, there are %d AI examples; adjust your priors accordingly. "+
			"Please just give a Y or N for the guess; say Y x%% of the time if you are x%% sure this is a human suffix, for example. "+
			"The prefix is \"\"\"%s\"\"\". The suffix is \"\"\"%s\"\"\". Now answer just Y or N.",
		ratio, prefix, suffix,
	)
}

// NewExample builds a labelled record.
func NewExample(ratio int, prefix, suffix string, human bool) Example {
	answer := AnswerAI
	if human {
		answer = AnswerHuman
	}
	return Example{Messages: []Message{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: Instruction(ratio, prefix, suffix)},
		{Role: "assistant", Content: answer},
	}}
}
