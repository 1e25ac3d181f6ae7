package guardrail

import (
	"testing"

	"github.com/jarabaimpact/agentflow/model"
	"github.com/stretchr/testify/require"
)

func testAgent() *model.Agent {
	return &model.Agent{
		Id:           "agent-1",
		Capabilities: []string{"search", "summarize"},
		Guardrails: model.GuardrailPolicy{
			MaxActionsPerRun: 3,
		},
		AutonomyLevel: model.AUTONOMY_AUTONOMOUS,
		Active:        true,
	}
}

func TestAuthorize(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"allow within budget":           testAllowWithinBudget,
		"deny on exhausted budget":      testDenyOnBudget,
		"deny on missing capability":    testDenyOnCapability,
		"deny on forbidden capability":  testDenyOnForbidden,
		"approval for supervised agent": testApprovalForSupervised,
		"approval for high risk step":   testApprovalForHighRisk,
		"budget outranks approval":      testBudgetBeforeApproval,
	} {
		t.Run(scenario, fn)
	}
}

func testAllowWithinBudget(t *testing.T) {
	authz := Authorize(testAgent(), ProposedAction{StepName: "s1", Capability: "search"}, 0)
	require.Equal(t, DECISION_ALLOW, authz.Decision)
}

func testDenyOnBudget(t *testing.T) {
	authz := Authorize(testAgent(), ProposedAction{StepName: "s4", Capability: "search"}, 3)
	require.Equal(t, DECISION_DENY, authz.Decision)
	require.Equal(t, RULE_MAX_ACTIONS, authz.Rule)
}

func testDenyOnCapability(t *testing.T) {
	authz := Authorize(testAgent(), ProposedAction{StepName: "s1", Capability: "send_email"}, 0)
	require.Equal(t, DECISION_DENY, authz.Decision)
	require.Equal(t, RULE_CAPABILITY, authz.Rule)
}

func testDenyOnForbidden(t *testing.T) {
	agent := testAgent()
	agent.Guardrails.ForbiddenCapabilities = []string{"search"}
	authz := Authorize(agent, ProposedAction{StepName: "s1", Capability: "search"}, 0)
	require.Equal(t, DECISION_DENY, authz.Decision)
	require.Equal(t, RULE_CAPABILITY, authz.Rule)
}

func testApprovalForSupervised(t *testing.T) {
	agent := testAgent()
	agent.RequiresApproval = true
	authz := Authorize(agent, ProposedAction{StepName: "s1", Capability: "search"}, 0)
	require.Equal(t, DECISION_REQUIRE_APPROVAL, authz.Decision)
	require.Equal(t, RULE_APPROVAL, authz.Rule)
}

func testApprovalForHighRisk(t *testing.T) {
	authz := Authorize(testAgent(), ProposedAction{StepName: "wire-money", Capability: "search", HighRisk: true}, 0)
	require.Equal(t, DECISION_REQUIRE_APPROVAL, authz.Decision)
}

func testBudgetBeforeApproval(t *testing.T) {
	agent := testAgent()
	agent.RequiresApproval = true
	authz := Authorize(agent, ProposedAction{StepName: "s4", Capability: "search"}, 3)
	require.Equal(t, DECISION_DENY, authz.Decision)
	require.Equal(t, RULE_MAX_ACTIONS, authz.Rule)
}

func TestValidate(t *testing.T) {
	agent := testAgent()
	require.Empty(t, Validate(agent))

	agent.Id = ""
	agent.Guardrails.MaxActionsPerRun = 0
	agent.Capabilities = nil
	agent.AutonomyLevel = "rogue"
	violations := Validate(agent)
	require.Len(t, violations, 4)

	fields := make(map[string]bool)
	for _, v := range violations {
		fields[v.Field] = true
	}
	require.True(t, fields["id"])
	require.True(t, fields["guardrails.maxActionsPerRun"])
	require.True(t, fields["capabilities"])
	require.True(t, fields["autonomyLevel"])
}

func TestValidateContradictoryCapabilities(t *testing.T) {
	agent := testAgent()
	agent.Guardrails.AllowedCapabilities = []string{"search"}
	agent.Guardrails.ForbiddenCapabilities = []string{"search"}
	violations := Validate(agent)
	require.Len(t, violations, 1)
	require.Equal(t, "guardrails.forbiddenCapabilities", violations[0].Field)
}
