package rolling

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/poll"
	"github.com/cuemby/burrow/pkg/types"
)

// Outcome is how a check or stage ended for one host
type Outcome int

const (
	// Success lets the host continue
	Success Outcome = iota
	// Skip drops the host from the rest of the campaign
	Skip
	// Fail stops the campaign
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Skip:
		return "skip"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type stageResult struct {
	outcome Outcome
	details string
	answer  *agent.Answer
}

// failure turns a problem into Fail, or into Skip on a forced campaign
func (c *campaign) failure(details string) stageResult {
	if c.req.Forced {
		return stageResult{outcome: Skip, details: details}
	}
	return stageResult{outcome: Fail, details: details}
}

// runStage sends the stage command until the hook reports it finished.
// Unreachable agents and started-but-unfinished answers are retried every
// ping interval; running out of time is a failure even when forced.
func (c *campaign) runStage(ctx context.Context, host *types.Host, stage agent.Stage) stageResult {
	cmd := agent.RollingMaintenanceCommand{
		Stage:   stage,
		Payload: c.req.Payload,
		Timeout: c.timeout,
	}
	logger := c.logger.With().Str(log.FieldHostID, host.ID).Str(log.FieldStage, string(stage)).Logger()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RollingStageDuration, string(stage))

	var last *agent.Answer
	waiter := poll.NewWaiter(c.timeout, c.rolling.PingInterval)
	err := waiter.WaitFor(ctx, func(ctx context.Context) (bool, error) {
		answer, err := c.o.transport.Send(ctx, host.ID, cmd)
		if err != nil {
			if fault.Is(err, fault.KindAgentUnavailable) {
				logger.Debug().Err(err).Msg("Agent unreachable, retrying stage")
				return false, nil
			}
			return false, err
		}
		last = answer
		if answer.Started && !answer.Finished {
			logger.Debug().Msg("Stage still running")
			return false, nil
		}
		return true, nil
	}, fmt.Sprintf("stage %s on host %s", stage, host.Name))

	if err != nil {
		if fault.Is(err, fault.KindTimeout) {
			return stageResult{outcome: Fail, details: fmt.Sprintf("stage %s on host %s did not finish within %v", stage, host.Name, c.timeout)}
		}
		return c.failure(fmt.Sprintf("stage %s on host %s failed: %v", stage, host.Name, err))
	}

	if !last.Result {
		logger.Warn().Str("details", last.Details).Msg("Stage failed")
		res := c.failure(fmt.Sprintf("stage %s on host %s failed: %s", stage, host.Name, last.Details))
		res.answer = last
		return res
	}
	logger.Info().Dur("duration", timer.Duration()).Msg("Stage finished")
	return stageResult{outcome: Success, details: last.Details, answer: last}
}

// hasScript asks the agent whether a maintenance hook is installed
func (c *campaign) hasScript(ctx context.Context, host *types.Host) (bool, string) {
	answer, err := c.o.transport.Send(ctx, host.ID, agent.RollingMaintenanceCommand{CheckMaintenanceScript: true})
	if err != nil {
		return false, fmt.Sprintf("unable to check the maintenance script on host %s: %v", host.Name, err)
	}
	if !answer.ScriptDefined {
		details := answer.Details
		if details == "" {
			details = "no maintenance script defined"
		}
		return false, details
	}
	return true, ""
}
