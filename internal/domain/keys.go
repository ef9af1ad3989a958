package domain

import (
	"fmt"
	"time"
)

const (
	NodeExecutionPrefix     = "nodeexec:record:"
	NodeExecutionPlanPrefix = "nodeexec:plan:"
	SchedulerJobPrefix      = "scheduler:job:"
	SchedulerTriggerPrefix  = "scheduler:trigger:"
	SchedulerClaimPrefix    = "scheduler:claim:"
)

// NodeExecutionKey builds the canonical key for a node execution record.
func NodeExecutionKey(nodeExecutionID string) string {
	return NodeExecutionPrefix + nodeExecutionID
}

// NodeExecutionPlanIndexKey builds the secondary-index key mapping an
// owning plan execution to one of its node executions.
func NodeExecutionPlanIndexKey(planExecutionID, nodeExecutionID string) string {
	return fmt.Sprintf("%s%s:%s", NodeExecutionPlanPrefix, planExecutionID, nodeExecutionID)
}

// NodeExecutionPlanScanPrefix is the prefix enumerating all node executions
// of one plan execution.
func NodeExecutionPlanScanPrefix(planExecutionID string) string {
	return fmt.Sprintf("%s%s:", NodeExecutionPlanPrefix, planExecutionID)
}

func SchedulerJobKey(key JobKey) string {
	return fmt.Sprintf("%s%s:%s", SchedulerJobPrefix, key.Group, key.Name)
}

// SchedulerJobGroupScanPrefix enumerates every job of one group.
func SchedulerJobGroupScanPrefix(group string) string {
	return fmt.Sprintf("%s%s:", SchedulerJobPrefix, group)
}

func SchedulerTriggerKey(triggerKey string) string {
	return SchedulerTriggerPrefix + triggerKey
}

// SchedulerClaimKey embeds the due instant so that racing pollers contend
// on one key per trigger per due time.
func SchedulerClaimKey(triggerKey string, dueAt time.Time) string {
	return fmt.Sprintf("%s%s:%d", SchedulerClaimPrefix, triggerKey, dueAt.UnixNano())
}
