// Package models defines flow type definitions to avoid circular imports.
package models

// Act is the dialogue purpose of a system turn.
type Act string

// AgentName identifies a responder agent.
type AgentName string

// Speaker identifies who produced a dialogue record.
type Speaker string

// Phase is a state of the per-turn orchestration machine.
type Phase string

// Dialogue acts.
const (
	ActAsk       Act = "ask"
	ActRecommend Act = "recommend"
	ActChitchat  Act = "chitchat"
)

// Responder agents. Each agent proposes exactly one act.
const (
	AgentAsk       AgentName = "ask"
	AgentRecommend AgentName = "recommend"
	AgentChitchat  AgentName = "chitchat"
)

// Speakers.
const (
	SpeakerSystem Speaker = "system"
	SpeakerUser   Speaker = "user"
)

// Turn phases, in traversal order.
const (
	PhaseAwaitingInput Phase = "AWAITING_INPUT"
	PhaseReflecting    Phase = "REFLECTING"
	PhaseGenerating    Phase = "GENERATING"
	PhasePlanning      Phase = "PLANNING"
	PhaseFinalizing    Phase = "FINALIZING"
)

// AgentOrder is the fixed agent order used to build the candidate pool. It is
// also the tie-break priority: earlier agents win.
var AgentOrder = []AgentName{AgentAsk, AgentRecommend, AgentChitchat}

// IsValid reports whether the act is one of the known dialogue acts.
func (a Act) IsValid() bool {
	switch a {
	case ActAsk, ActRecommend, ActChitchat:
		return true
	}
	return false
}

// IsValid reports whether the agent name is one of the known responders.
func (n AgentName) IsValid() bool {
	switch n {
	case AgentAsk, AgentRecommend, AgentChitchat:
		return true
	}
	return false
}

// Act returns the act the agent is allowed to propose.
func (n AgentName) Act() Act {
	switch n {
	case AgentAsk:
		return ActAsk
	case AgentRecommend:
		return ActRecommend
	case AgentChitchat:
		return ActChitchat
	}
	return ""
}

// Priority returns the agent's position in AgentOrder, or len(AgentOrder) when unknown.
func (n AgentName) Priority() int {
	for i, name := range AgentOrder {
		if name == n {
			return i
		}
	}
	return len(AgentOrder)
}
