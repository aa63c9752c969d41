package broker

import (
	"context"

	"herald/internal/constants"
	"herald/internal/delivery"
	"herald/internal/logger"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/models"
	"herald/pkg/retry"
)

type Submitter interface {
	Enqueue(ctx context.Context, env *models.Envelope) (delivery.EnqueueResult, error)
}

// NewSubmissionHandler feeds Kafka submissions into the delivery pipeline.
// Policy rejections are final and acknowledged; invalid submissions go to the
// DLQ without retrying; store outages are retried.
func NewSubmissionHandler(submitter Submitter, log logger.Logger) HandlerFunc {
	return func(ctx context.Context, req models.SubmitRequest) error {
		env := req.ToEnvelope(constants.SourceKafka)

		res, err := submitter.Enqueue(ctx, env)
		if err != nil {
			if pkgerrors.IsValidation(err) {
				return retry.NewFatalError(err)
			}
			return err
		}

		if !res.Accepted {
			log.InfowCtx(ctx, "Submission rejected",
				"message_id", res.MessageID,
				"reason", res.Reason,
			)
			return nil
		}

		log.DebugwCtx(ctx, "Submission queued",
			"message_id", res.MessageID,
			"estimated_delay", res.EstimatedDelay,
		)
		return nil
	}
}
