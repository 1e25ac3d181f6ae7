package model

// AutonomyLevel controls how much human oversight an agent needs.
type AutonomyLevel string

const AUTONOMY_SUPERVISED AutonomyLevel = "supervised"
const AUTONOMY_SEMI_AUTONOMOUS AutonomyLevel = "semi_autonomous"
const AUTONOMY_AUTONOMOUS AutonomyLevel = "autonomous"

// GuardrailPolicy is the structured constraint set evaluated before every step.
type GuardrailPolicy struct {
	MaxActionsPerRun      int      `json:"maxActionsPerRun"`
	AllowedCapabilities   []string `json:"allowedCapabilities"`
	ForbiddenCapabilities []string `json:"forbiddenCapabilities"`
	MaxCostEstimate       float64  `json:"maxCostEstimate"`
	MaxDurationSeconds    int      `json:"maxDurationSeconds"`
}

// Agent is a reusable automation configuration owned by a tenant.
type Agent struct {
	Id               string          `json:"id"`
	TenantId         string          `json:"tenantId"`
	Name             string          `json:"name"`
	Objective        string          `json:"objective"`
	Capabilities     []string        `json:"capabilities"`
	Guardrails       GuardrailPolicy `json:"guardrails"`
	AutonomyLevel    AutonomyLevel   `json:"autonomyLevel"`
	RequiresApproval bool            `json:"requiresApproval"`
	Model            string          `json:"model"`
	Temperature      float64         `json:"temperature"`
	Active           bool            `json:"active"`
}

func (a *Agent) HasCapability(capability string) bool {
	for _, forbidden := range a.Guardrails.ForbiddenCapabilities {
		if forbidden == capability {
			return false
		}
	}
	allowed := a.Capabilities
	if len(a.Guardrails.AllowedCapabilities) > 0 {
		allowed = a.Guardrails.AllowedCapabilities
	}
	for _, c := range allowed {
		if c == capability {
			return true
		}
	}
	return false
}
