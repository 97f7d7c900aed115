package domain

// FeedbackType selects which canned coaching message is sent.
type FeedbackType string

const (
	FeedbackSlowDown FeedbackType = "slow_down"
	FeedbackMindful  FeedbackType = "mindful"
	FeedbackStressed FeedbackType = "stressed"
	FeedbackRushed   FeedbackType = "rushed"
)

// Known reports whether t is one of the defined feedback types.
func (t FeedbackType) Known() bool {
	switch t {
	case FeedbackSlowDown, FeedbackMindful, FeedbackStressed, FeedbackRushed:
		return true
	}
	return false
}

// Reasons attached to a FeedbackDecision.
const (
	ReasonOK            = "ok"
	ReasonForced        = "forced"
	ReasonCooldown      = "cooldown"
	ReasonNotRushed     = "not_rushed"
	ReasonNotReflective = "not_reflective"
	ReasonNoFeedback    = "no_feedback"
)

// FeedbackDecision says whether and what to send to a user.
// ShouldSend=false is a normal outcome.
type FeedbackDecision struct {
	ShouldSend bool         `json:"should_send"`
	Message    string       `json:"message,omitempty"`
	Type       FeedbackType `json:"feedback_type,omitempty"`
	Reason     string       `json:"reason"`
}

// Memory is an entry written to the user's Omi timeline.
type Memory struct {
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Structured map[string]any `json:"structured,omitempty"`
}
