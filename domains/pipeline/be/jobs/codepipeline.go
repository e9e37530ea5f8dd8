package jobs

import (
	"context"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
)

// failureMessageLimit is the longest failure message CodePipeline accepts.
const failureMessageLimit = 5000

// PipelineAPI is the slice of the CodePipeline client used to report job outcomes.
type PipelineAPI interface {
	PutJobSuccessResult(ctx context.Context, in *codepipeline.PutJobSuccessResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobSuccessResultOutput, error)
	PutJobFailureResult(ctx context.Context, in *codepipeline.PutJobFailureResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobFailureResultOutput, error)
}

// CodePipelineReporter signals job outcomes to CodePipeline.
type CodePipelineReporter struct {
	api PipelineAPI
}

func NewCodePipelineReporter(api PipelineAPI) *CodePipelineReporter {
	return &CodePipelineReporter{api: api}
}

func (r *CodePipelineReporter) CompleteJob(ctx context.Context, jobID string) error {
	_, err := r.api.PutJobSuccessResult(ctx, &codepipeline.PutJobSuccessResultInput{JobId: aws.String(jobID)})
	return err
}

func (r *CodePipelineReporter) FailJob(ctx context.Context, jobID string, cause error) error {
	msg := "job failed"
	if cause != nil {
		msg = cause.Error()
	}
	msg = truncateMessage(msg, failureMessageLimit)
	_, err := r.api.PutJobFailureResult(ctx, &codepipeline.PutJobFailureResultInput{
		JobId: aws.String(jobID),
		FailureDetails: &types.FailureDetails{
			Type:    types.FailureTypeJobFailed,
			Message: aws.String(msg),
		},
	})
	return err
}

// truncateMessage cuts msg to at most limit bytes without splitting a UTF-8 sequence.
func truncateMessage(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
