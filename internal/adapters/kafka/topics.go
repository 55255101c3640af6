package kafka

import "onboardr/internal/orchestration"

// Topic definitions for orchestration event streaming
const (
	TopicAgentEvents = "onboardr.orchestration.events"
	TopicTrades      = "onboardr.trades"
	TopicAlerts      = "onboardr.alerts"
)

// topicFor routes trade and alert events to their own topics; everything
// else goes to the agent events topic
func topicFor(eventType orchestration.EventType, agentTopic string) string {
	switch eventType {
	case orchestration.EventTradeCompleted, orchestration.EventTradeFailed:
		return TopicTrades
	case orchestration.EventAlertTriggered:
		return TopicAlerts
	default:
		return agentTopic
	}
}
