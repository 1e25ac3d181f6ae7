package model

// TriggerType identifies the source that started an execution.
type TriggerType string

const TRIGGER_TYPE_MANUAL TriggerType = "manual"
const TRIGGER_TYPE_CRON TriggerType = "cron"
const TRIGGER_TYPE_WEBHOOK TriggerType = "webhook"
const TRIGGER_TYPE_EVENT TriggerType = "event"

// FlowStatus is the lifecycle status of a flow definition. A paused or
// archived flow must never be selected by a trigger.
type FlowStatus string

const FLOW_STATUS_DRAFT FlowStatus = "draft"
const FLOW_STATUS_ACTIVE FlowStatus = "active"
const FLOW_STATUS_PAUSED FlowStatus = "paused"
const FLOW_STATUS_ARCHIVED FlowStatus = "archived"

// StepDef is one ordered step of a flow. Type selects the handler from the
// registry; the typed parameter variants are validated once at save time so
// the executor operates on well formed steps. Condition, when set, is a
// javascript expression over the execution data; a step whose condition
// evaluates false is logged skipped and the flow moves on.
type StepDef struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Capability string         `json:"capability"`
	Params     map[string]any `json:"parameters"`
	Expression string         `json:"expression,omitempty"`
	Condition  string         `json:"condition,omitempty"`
	Skippable  bool           `json:"skippable"`
	HighRisk   bool           `json:"highRisk"`
}

// TriggerConfig holds per trigger-type configuration, such as the cron
// schedule expression.
type TriggerConfig struct {
	Schedule string `json:"schedule,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Flow is an ordered definition of steps for an agent.
type Flow struct {
	Id            string        `json:"id"`
	TenantId      string        `json:"tenantId"`
	Name          string        `json:"name"`
	AgentId       string        `json:"agentId"`
	Steps         []StepDef     `json:"steps"`
	TriggerType   TriggerType   `json:"triggerType"`
	TriggerConfig TriggerConfig `json:"triggerConfig"`
	Status        FlowStatus    `json:"status"`
}

// TriggerRequest is the payload accepted by the orchestrator.
type TriggerRequest struct {
	FlowId           string         `json:"flowId"`
	TriggerType      TriggerType    `json:"triggerType"`
	IdempotencyToken string         `json:"idempotencyToken,omitempty"`
	ScheduleSlot     string         `json:"scheduleSlot,omitempty"`
	Input            map[string]any `json:"input,omitempty"`
}
