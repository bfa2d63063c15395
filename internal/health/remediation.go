package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkghealth "github.com/driftworks/drivetierd/pkg/health"
)

// RemediationAction represents a recommended action to fix a health issue
type RemediationAction struct {
	ID            string        `json:"id"`
	Priority      Priority      `json:"priority"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Steps         []string      `json:"steps"`
	Automated     bool          `json:"automated"`
	AutoFix       AutoFixFunc   `json:"-"`
	EstimatedTime time.Duration `json:"estimated_time"`
	Impact        string        `json:"impact"`
	Category      string        `json:"category"`
}

// AutoFixFunc is a function that can automatically remediate an issue
type AutoFixFunc func(ctx context.Context) error

// RemediationEngine provides intelligent remediation recommendations
type RemediationEngine struct {
	rules     map[string]*RemediationRule
	history   []RemediationAttempt
	autoFixFn map[string]AutoFixFunc
}

// RemediationRule defines how to remediate a specific health issue
type RemediationRule struct {
	CheckName    string
	ErrorPattern string
	Actions      []*RemediationAction
	Conditions   []ConditionFunc
}

// ConditionFunc determines if a remediation should be applied
type ConditionFunc func(result *Result, health *pkghealth.ComponentHealth) bool

// RemediationAttempt tracks a remediation attempt
type RemediationAttempt struct {
	ActionID  string        `json:"action_id"`
	CheckName string        `json:"check_name"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Error     error         `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Automated bool          `json:"automated"`
}

// ProblemDiagnosis provides detailed analysis of a health problem
type ProblemDiagnosis struct {
	Check               string               `json:"check"`
	Category            Category             `json:"category"`
	Severity            Priority             `json:"severity"`
	Problem             string               `json:"problem"`
	PossibleCauses      []string             `json:"possible_causes"`
	Symptoms            []string             `json:"symptoms"`
	Impact              string               `json:"impact"`
	Remediations        []*RemediationAction `json:"remediations"`
	DetectedAt          time.Time            `json:"detected_at"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
}

// NewRemediationEngine creates a new remediation engine
func NewRemediationEngine() *RemediationEngine {
	engine := &RemediationEngine{
		rules:     make(map[string]*RemediationRule),
		history:   make([]RemediationAttempt, 0),
		autoFixFn: make(map[string]AutoFixFunc),
	}

	// Register default remediation rules
	engine.registerDefaultRules()

	return engine
}

// DiagnoseProblem analyzes a health check failure and provides diagnosis
func (re *RemediationEngine) DiagnoseProblem(result *Result, health *pkghealth.ComponentHealth) *ProblemDiagnosis {
	diagnosis := &ProblemDiagnosis{
		Check:               result.Check,
		Problem:             result.Message,
		Symptoms:            []string{result.Error},
		DetectedAt:          result.Timestamp,
		ConsecutiveFailures: health.ConsecutiveErrors,
		Remediations:        make([]*RemediationAction, 0),
	}

	// Find matching remediation rules
	if rule, exists := re.rules[result.Check]; exists {
		// Check if error pattern matches
		if strings.Contains(result.Error, rule.ErrorPattern) || rule.ErrorPattern == "" {
			// Evaluate conditions
			allConditionsMet := true
			for _, condition := range rule.Conditions {
				if !condition(result, health) {
					allConditionsMet = false
					break
				}
			}

			if allConditionsMet {
				diagnosis.Remediations = append(diagnosis.Remediations, rule.Actions...)
			}
		}
	}

	// Analyze the problem based on check type and error
	re.analyzeProblem(diagnosis, result, health)

	return diagnosis
}

// AutoRemediate attempts to automatically fix a problem
func (re *RemediationEngine) AutoRemediate(ctx context.Context, diagnosis *ProblemDiagnosis) error {
	// Find automated remediation actions
	for _, action := range diagnosis.Remediations {
		if action.Automated && action.AutoFix != nil {
			attempt := RemediationAttempt{
				ActionID:  action.ID,
				CheckName: diagnosis.Check,
				Timestamp: time.Now(),
				Automated: true,
			}

			start := time.Now()
			err := action.AutoFix(ctx)
			attempt.Duration = time.Since(start)

			if err != nil {
				attempt.Success = false
				attempt.Error = err
				re.history = append(re.history, attempt)
				return fmt.Errorf("auto-remediation failed: %w", err)
			}

			attempt.Success = true
			re.history = append(re.history, attempt)
			return nil
		}
	}

	return fmt.Errorf("no automated remediation available for %s", diagnosis.Check)
}

// GetRemediationHistory returns recent remediation attempts
func (re *RemediationEngine) GetRemediationHistory(limit int) []RemediationAttempt {
	if limit <= 0 || limit > len(re.history) {
		limit = len(re.history)
	}

	// Return most recent attempts
	start := len(re.history) - limit
	if start < 0 {
		start = 0
	}

	return re.history[start:]
}

// analyzeProblem provides detailed problem analysis
func (re *RemediationEngine) analyzeProblem(diagnosis *ProblemDiagnosis, result *Result, health *pkghealth.ComponentHealth) {
	checkName := result.Check

	// Union mount problems
	if strings.Contains(checkName, "union_mount") || strings.Contains(checkName, "mount") {
		diagnosis.Category = CategoryStorage
		diagnosis.Severity = PriorityCritical
		diagnosis.PossibleCauses = []string{
			"mergerfs process exited or was never started",
			"Underlying tier device was unmounted out from under the union root",
			"Union root path misconfigured",
		}
		diagnosis.Impact = "Scan, move, and reconcile phases cannot resolve file paths. The engine is effectively stalled."
	}

	// Copy-tool problems
	if strings.Contains(checkName, "rsync") || strings.Contains(checkName, "binary") {
		diagnosis.Category = CategoryCore
		diagnosis.Severity = PriorityCritical
		diagnosis.PossibleCauses = []string{
			"rsync not installed on this host",
			"PATH does not include the directory holding rsync",
			"Configured copier binary name is misspelled",
		}
		diagnosis.Impact = "Every move attempt will fail and pile up in the Retry Queue until it exhausts retries."
	}

	// Metadata Store problems
	if strings.Contains(checkName, "store") {
		diagnosis.Category = CategoryStorage
		if strings.Contains(result.Error, "permission") || strings.Contains(result.Error, "read-only") {
			diagnosis.Severity = PriorityCritical
			diagnosis.PossibleCauses = []string{
				"Store directory permissions changed",
				"Filesystem holding the store remounted read-only",
			}
			diagnosis.Impact = "Moves will succeed on disk but bookkeeping will fail, risking drift between disk state and the Metadata Store."
		} else {
			diagnosis.Severity = PriorityCritical
			diagnosis.PossibleCauses = []string{
				"Disk holding the store is full",
				"Store file corrupted or locked by another process",
			}
			diagnosis.Impact = "The engine cannot persist move decisions."
		}
	}

	// Tier capacity problems
	if strings.Contains(checkName, "capacity") || strings.Contains(checkName, "watermark") {
		diagnosis.Category = CategoryStorage
		diagnosis.Severity = PriorityHigh
		diagnosis.PossibleCauses = []string{
			"Tier above tier_capacity_threshold with nothing eligible to demote",
			"Promotions are outpacing demotions and refilling the tier as fast as it's drained",
			"Tier device filled by something outside the engine's control",
		}
		diagnosis.Impact = "New promotions or demotions may be rejected until capacity is recovered."
	}

	// Add generic symptoms if consecutive failures
	if diagnosis.ConsecutiveFailures >= 3 {
		diagnosis.Symptoms = append(diagnosis.Symptoms, fmt.Sprintf("%d consecutive failures detected", diagnosis.ConsecutiveFailures))
	}

	if diagnosis.ConsecutiveFailures >= 10 {
		diagnosis.Symptoms = append(diagnosis.Symptoms, "Component may need restart or manual intervention")
	}
}

// registerDefaultRules registers default remediation rules
func (re *RemediationEngine) registerDefaultRules() {
	// Union mount remediation
	re.rules["union_mount"] = &RemediationRule{
		CheckName:    "union_mount",
		ErrorPattern: "",
		Actions: []*RemediationAction{
			{
				ID:          "union_mount_check_process",
				Priority:    PriorityCritical,
				Title:       "Verify mergerfs is running",
				Description: "Check that the mergerfs process backing the union root is still alive",
				Steps: []string{
					"Check mergerfs process: pgrep -a mergerfs",
					"Check mount table: findmnt <union_root>",
					"Inspect dmesg for an unexpected unmount",
					"Remount if the process died: mergerfs <branches> <union_root>",
				},
				Automated:     false,
				EstimatedTime: 5 * time.Minute,
				Impact:        "Critical - scan, move, and reconcile phases resume once the union root is reachable again",
				Category:      "mount",
			},
			{
				ID:          "union_mount_check_branches",
				Priority:    PriorityHigh,
				Title:       "Verify tier branches are mounted",
				Description: "Confirm each tier's backing device is still mounted under its branch path",
				Steps: []string{
					"List branch mounts: findmnt --list",
					"Check for a device that dropped out (disk failure, USB unplug)",
					"Remount the branch if the device is healthy",
				},
				Automated:     false,
				EstimatedTime: 10 * time.Minute,
				Impact:        "High - a missing branch silently hides files from that tier",
				Category:      "mount",
			},
		},
	}

	// Copy-tool remediation
	re.rules["rsync_binary"] = &RemediationRule{
		CheckName:    "rsync_binary",
		ErrorPattern: "",
		Actions: []*RemediationAction{
			{
				ID:          "rsync_install",
				Priority:    PriorityCritical,
				Title:       "Install or repair the rsync binary",
				Description: "rsync could not be resolved on PATH",
				Steps: []string{
					"Check PATH: which rsync",
					"Install rsync via the system package manager",
					"Verify version: rsync --version",
				},
				Automated:     false,
				EstimatedTime: 5 * time.Minute,
				Impact:        "Critical - no file can move between tiers until rsync is available",
				Category:      "binary",
			},
		},
	}

	// Metadata Store remediation
	re.rules["store_writable"] = &RemediationRule{
		CheckName:    "store_writable",
		ErrorPattern: "",
		Actions: []*RemediationAction{
			{
				ID:          "store_check_permissions",
				Priority:    PriorityCritical,
				Title:       "Restore store directory write access",
				Description: "The Metadata Store's directory rejected a write probe",
				Steps: []string{
					"Check ownership and mode of the store directory",
					"Check the backing filesystem for a read-only remount: mount | grep ro,",
					"Check available space: df -h <store_dir>",
				},
				Automated:     false,
				EstimatedTime: 5 * time.Minute,
				Impact:        "Critical - moves will proceed on disk but bookkeeping will silently fall behind",
				Category:      "store",
			},
			{
				ID:          "store_compact",
				Priority:    PriorityMedium,
				Title:       "Compact the store file",
				Description: "Rewrite the bbolt file to reclaim space from deleted keys",
				Steps: []string{
					"Stop the daemon",
					"Run bbolt compact on the store file",
					"Restart the daemon",
				},
				Automated:     false,
				EstimatedTime: 2 * time.Minute,
				Impact:        "Low - brief downtime during compaction",
				Category:      "store",
			},
		},
	}

	// Tier capacity remediation
	re.rules["tier_capacity"] = &RemediationRule{
		CheckName:    "tier_capacity",
		ErrorPattern: "",
		Actions: []*RemediationAction{
			{
				ID:          "capacity_lower_watermark",
				Priority:    PriorityMedium,
				Title:       "Adjust tier_capacity_threshold",
				Description: "Raise the configured threshold so the scan phase tolerates more headroom before demoting",
				Steps: []string{
					"Review current tier usage via the /status or /metrics endpoint",
					"Raise tiering.tier_capacity_threshold to delay demotion pressure",
					"Reload configuration",
				},
				Automated:     false,
				EstimatedTime: 5 * time.Minute,
				Impact:        "Medium - requires a configuration change",
				Category:      "capacity",
			},
			{
				ID:          "capacity_manual_demote",
				Priority:    PriorityHigh,
				Title:       "Manually demote cold candidates",
				Description: "Force a reconcile/demote pass to relieve a tier sitting above tier_capacity_threshold",
				Steps: []string{
					"Identify least-recently-accessed files on the saturated tier",
					"Trigger a manual scan pass if the daemon exposes one",
					"Monitor tier usage until it drops below the configured threshold",
				},
				Automated:     false,
				EstimatedTime: 10 * time.Minute,
				Impact:        "Medium - temporarily increases disk I/O on the affected tier",
				Category:      "capacity",
			},
		},
	}
}

// GetRemediations returns remediation actions for a specific check
func (re *RemediationEngine) GetRemediations(checkName string) []*RemediationAction {
	if rule, exists := re.rules[checkName]; exists {
		return rule.Actions
	}
	return nil
}

// RegisterRemediationRule registers a custom remediation rule
func (re *RemediationEngine) RegisterRemediationRule(rule *RemediationRule) {
	re.rules[rule.CheckName] = rule
}

// RegisterAutoFix registers an automated fix function
func (re *RemediationEngine) RegisterAutoFix(actionID string, fixFunc AutoFixFunc) {
	re.autoFixFn[actionID] = fixFunc
}
