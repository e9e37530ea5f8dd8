package events

import (
	"encoding/json"
	"fmt"
)

const (
	JobTypePostBuild  = "POST_BUILD"
	JobTypeInvalidate = "INVALIDATE"
)

// PipelineJob is one of BuildJob or InvalidateJob.
type PipelineJob interface {
	ID() string
	Type() string
}

// BuildJob finalises a dapp after its pipeline has written the site to DestinationBucket.
type BuildJob struct {
	JobID             string `json:"-"`
	OwnerEmail        string `json:"OwnerEmail"`
	DappName          string `json:"DappName"`
	DestinationBucket string `json:"DestinationBucket"`
}

func (j BuildJob) ID() string   { return j.JobID }
func (j BuildJob) Type() string { return JobTypePostBuild }

// InvalidateJob flushes a dapp's CDN cache. Paths defaults to everything.
type InvalidateJob struct {
	JobID    string   `json:"-"`
	DappName string   `json:"DappName"`
	Paths    []string `json:"Paths,omitempty"`
}

func (j InvalidateJob) ID() string   { return j.JobID }
func (j InvalidateJob) Type() string { return JobTypeInvalidate }

type pipelineEnvelope struct {
	Job struct {
		ID   string `json:"id"`
		Data struct {
			ActionConfiguration struct {
				Configuration struct {
					UserParameters string `json:"UserParameters"`
				} `json:"configuration"`
			} `json:"actionConfiguration"`
		} `json:"data"`
	} `json:"CodePipeline.job"`
}

// DecodePipelineEvent parses a pipeline job invocation. The job id is returned whenever the
// envelope itself is well formed, even if the parameter bundle is not, so the caller can
// still report the job as failed.
func DecodePipelineEvent(payload []byte) (string, PipelineJob, error) {
	var env pipelineEnvelope
	if err := decode("pipeline-job.json", payload, &env); err != nil {
		return "", nil, fmt.Errorf("pipeline envelope: %w", err)
	}
	jobID := env.Job.ID
	params := []byte(env.Job.Data.ActionConfiguration.Configuration.UserParameters)

	var tag struct {
		JobType *string `json:"JobType"`
	}
	if err := json.Unmarshal(params, &tag); err != nil {
		return jobID, nil, fmt.Errorf("%w: user parameters: %v", ErrInvalid, err)
	}

	// Bundles written before job types existed carry no discriminator and are build jobs.
	jobType := JobTypePostBuild
	if tag.JobType != nil {
		jobType = *tag.JobType
	}

	switch jobType {
	case JobTypePostBuild:
		var j BuildJob
		if err := decode("build-job.json", params, &j); err != nil {
			return jobID, nil, err
		}
		j.JobID = jobID
		return jobID, j, nil
	case JobTypeInvalidate:
		var j InvalidateJob
		if err := decode("invalidate-job.json", params, &j); err != nil {
			return jobID, nil, err
		}
		j.JobID = jobID
		return jobID, j, nil
	default:
		return jobID, nil, fmt.Errorf("%w: job type %q", ErrUnrecognized, jobType)
	}
}
