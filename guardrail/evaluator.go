package guardrail

import (
	"fmt"

	"github.com/jarabaimpact/agentflow/model"
)

type Decision string

const DECISION_ALLOW Decision = "allow"
const DECISION_DENY Decision = "deny"
const DECISION_REQUIRE_APPROVAL Decision = "require_approval"

const RULE_MAX_ACTIONS string = "max_actions_per_run"
const RULE_CAPABILITY string = "capability_not_allowed"
const RULE_APPROVAL string = "approval_required"

// Violation is one configuration problem found by Validate.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ProposedAction describes what a step is about to do.
type ProposedAction struct {
	StepName   string
	StepType   string
	Capability string
	HighRisk   bool
}

// Authorization is the run time decision for one proposed action.
type Authorization struct {
	Decision Decision
	Rule     string
	Reason   string
}

// Validate checks an agent configuration against policy constraints. All
// problems are collected, not fail fast, so an editor can show them at once.
func Validate(agent *model.Agent) []Violation {
	var violations []Violation
	if len(agent.Id) == 0 {
		violations = append(violations, Violation{Field: "id", Message: "agent id is required"})
	}
	if agent.Guardrails.MaxActionsPerRun <= 0 {
		violations = append(violations, Violation{
			Field:   "guardrails.maxActionsPerRun",
			Message: "max actions per run must be greater than zero",
		})
	}
	if len(agent.Capabilities) == 0 && len(agent.Guardrails.AllowedCapabilities) == 0 {
		violations = append(violations, Violation{
			Field:   "capabilities",
			Message: "agent has no capabilities",
		})
	}
	for _, forbidden := range agent.Guardrails.ForbiddenCapabilities {
		for _, allowed := range agent.Guardrails.AllowedCapabilities {
			if forbidden == allowed {
				violations = append(violations, Violation{
					Field:   "guardrails.forbiddenCapabilities",
					Message: fmt.Sprintf("capability %s is both allowed and forbidden", forbidden),
				})
			}
		}
	}
	if agent.Guardrails.MaxCostEstimate < 0 {
		violations = append(violations, Violation{
			Field:   "guardrails.maxCostEstimate",
			Message: "max cost estimate can not be negative",
		})
	}
	if agent.Guardrails.MaxDurationSeconds < 0 {
		violations = append(violations, Violation{
			Field:   "guardrails.maxDurationSeconds",
			Message: "max duration can not be negative",
		})
	}
	switch agent.AutonomyLevel {
	case model.AUTONOMY_SUPERVISED, model.AUTONOMY_SEMI_AUTONOMOUS, model.AUTONOMY_AUTONOMOUS:
	default:
		violations = append(violations, Violation{
			Field:   "autonomyLevel",
			Message: fmt.Sprintf("unknown autonomy level %q", agent.AutonomyLevel),
		})
	}
	return violations
}

// Authorize evaluates the run time rules in order, first match wins:
// deny on action budget exhaustion, deny on missing capability, require
// approval for supervised agents or high risk actions, allow otherwise.
func Authorize(agent *model.Agent, action ProposedAction, executionSoFarCount int) Authorization {
	if executionSoFarCount >= agent.Guardrails.MaxActionsPerRun {
		return Authorization{
			Decision: DECISION_DENY,
			Rule:     RULE_MAX_ACTIONS,
			Reason: fmt.Sprintf("execution reached %d of %d allowed actions",
				executionSoFarCount, agent.Guardrails.MaxActionsPerRun),
		}
	}
	if len(action.Capability) > 0 && !agent.HasCapability(action.Capability) {
		return Authorization{
			Decision: DECISION_DENY,
			Rule:     RULE_CAPABILITY,
			Reason:   fmt.Sprintf("capability %s is not allowed for agent %s", action.Capability, agent.Id),
		}
	}
	if agent.RequiresApproval || action.HighRisk {
		reason := "agent requires approval for every action"
		if action.HighRisk {
			reason = fmt.Sprintf("step %s is tagged high risk", action.StepName)
		}
		return Authorization{
			Decision: DECISION_REQUIRE_APPROVAL,
			Rule:     RULE_APPROVAL,
			Reason:   reason,
		}
	}
	return Authorization{Decision: DECISION_ALLOW}
}
