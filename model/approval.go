package model

import "time"

// ApprovalStatus is the lifecycle of a human-in-the-loop gate. Once resolved
// the record is frozen.
type ApprovalStatus string

const APPROVAL_PENDING ApprovalStatus = "pending"
const APPROVAL_APPROVED ApprovalStatus = "approved"
const APPROVAL_REJECTED ApprovalStatus = "rejected"
const APPROVAL_EXPIRED ApprovalStatus = "expired"
const APPROVAL_CANCELLED ApprovalStatus = "cancelled"

// ApprovalDecision is the reviewer input to Resolve.
type ApprovalDecision string

const DECISION_APPROVE ApprovalDecision = "approve"
const DECISION_REJECT ApprovalDecision = "reject"

// Approval gates one step of one execution behind a human decision. At most
// one pending approval exists per execution.
type Approval struct {
	Id             string         `json:"id"`
	TenantId       string         `json:"tenantId"`
	ExecutionId    string         `json:"executionId"`
	StepOrder      int            `json:"stepOrder"`
	Action         string         `json:"action"`
	Reasoning      string         `json:"reasoning"`
	RiskAssessment string         `json:"riskAssessment"`
	Status         ApprovalStatus `json:"status"`
	ReviewerId     string         `json:"reviewerId,omitempty"`
	ReviewNotes    string         `json:"reviewNotes,omitempty"`
	ReviewedAt     time.Time      `json:"reviewedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}
