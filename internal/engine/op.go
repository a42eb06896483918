package engine

// Op identifies an engine operation for admission accounting.
type Op int

const (
	OpSearch Op = iota
	OpCreateIssue
	OpUpdateIssue
	OpApplyTransition
	OpAddComment
	OpCreateLink
	OpCreateBoard
	OpCreateSprint
	OpMoveToSprint
	OpCreateServiceRequest
	OpAnswerApproval
	OpRegisterWebhook
	OpDeleteWebhook
	OpReplayDelivery
	OpGetIssue
	OpListTransitions
	OpListWebhooks
	OpListDeliveries
	OpListEvents
)

// Cost is the admission weight of the operation: searches are the most
// expensive, mutations moderate, plain reads cheap.
func (o Op) Cost() int {
	switch o {
	case OpSearch:
		return 5
	case OpCreateIssue, OpUpdateIssue, OpApplyTransition, OpAddComment,
		OpCreateLink, OpCreateBoard, OpCreateSprint, OpMoveToSprint,
		OpCreateServiceRequest, OpAnswerApproval,
		OpRegisterWebhook, OpDeleteWebhook, OpReplayDelivery:
		return 2
	default:
		return 1
	}
}
