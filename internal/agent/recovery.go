package agent

import "fmt"

// recoveryCause names what sent the loop into error recovery. The values are
// also metric labels.
type recoveryCause string

const (
	causeParse       recoveryCause = "parse"
	causeUnknownTool recoveryCause = "unknown_tool"
	causeValidation  recoveryCause = "validation"
	causeExecution   recoveryCause = "execution"
	causeRepeatLoop  recoveryCause = "repeat_loop"
	causeModel       recoveryCause = "model_error"
	causePlanLimit   recoveryCause = "plan_limit"
)

// correction is the system message injected before the next model turn.
func correction(cause recoveryCause, detail string) string {
	switch cause {
	case causeParse:
		return fmt.Sprintf("Your last response could not be understood (%s). "+
			`Reply with exactly one JSON object: {"tool": ..., "tool_args": {...}}, `+
			`{"plan": [...]} or {"answer": "..."}.`, detail)
	case causeUnknownTool:
		return fmt.Sprintf("%s. Only use tools from the available tool list, "+
			"or answer directly if none of them fit.", detail)
	case causeValidation:
		return fmt.Sprintf("The tool arguments were invalid: %s. "+
			"Check the parameter names and types and try again.", detail)
	case causeExecution:
		return fmt.Sprintf("The plan was stopped because a step failed: %s. "+
			"Decide on a new approach or answer with what you know.", detail)
	case causeRepeatLoop:
		return fmt.Sprintf("%s. You are not making progress: "+
			"vary your approach or answer now with the information you have.", detail)
	case causeModel:
		return fmt.Sprintf("The previous request failed (%s). Continue from where you left off.", detail)
	case causePlanLimit:
		return fmt.Sprintf("%s. Do not propose another plan: "+
			"call a single tool or give your final answer.", detail)
	}
	return detail
}

// recovery is a pending entry into the ErrorRecovery state.
type recovery struct {
	cause  recoveryCause
	detail string
}
