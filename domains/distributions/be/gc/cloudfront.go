package gc

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"
)

// CloudFrontAPI is the slice of the CloudFront client the collector uses.
type CloudFrontAPI interface {
	ListDistributions(ctx context.Context, in *cloudfront.ListDistributionsInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error)
	GetDistributionConfig(ctx context.Context, in *cloudfront.GetDistributionConfigInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error)
	DeleteDistribution(ctx context.Context, in *cloudfront.DeleteDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.DeleteDistributionOutput, error)
	ListTagsForResource(ctx context.Context, in *cloudfront.ListTagsForResourceInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListTagsForResourceOutput, error)
	CreateInvalidation(ctx context.Context, in *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// CloudFront adapts the AWS SDK client to CDN.
type CloudFront struct {
	api CloudFrontAPI
}

func NewCloudFront(api CloudFrontAPI) *CloudFront {
	return &CloudFront{api: api}
}

func (c *CloudFront) ListDistributions(ctx context.Context, marker string) (Page, error) {
	in := &cloudfront.ListDistributionsInput{}
	if marker != "" {
		in.Marker = aws.String(marker)
	}
	out, err := c.api.ListDistributions(ctx, in)
	if err != nil {
		return Page{}, err
	}
	list := out.DistributionList
	if list == nil {
		return Page{}, nil
	}

	page := Page{Items: make([]Distribution, 0, len(list.Items))}
	for _, s := range list.Items {
		page.Items = append(page.Items, Distribution{
			ID:         aws.ToString(s.Id),
			ARN:        aws.ToString(s.ARN),
			DomainName: aws.ToString(s.DomainName),
			Enabled:    aws.ToBool(s.Enabled),
			Status:     aws.ToString(s.Status),
		})
	}
	if aws.ToBool(list.IsTruncated) {
		page.NextMarker = aws.ToString(list.NextMarker)
	}
	return page, nil
}

func (c *CloudFront) GetDistributionETag(ctx context.Context, id string) (string, error) {
	out, err := c.api.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{Id: aws.String(id)})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

func (c *CloudFront) DeleteDistribution(ctx context.Context, id, etag string) error {
	_, err := c.api.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{
		Id:      aws.String(id),
		IfMatch: aws.String(etag),
	})
	return err
}

func (c *CloudFront) ListTags(ctx context.Context, arn string) ([]Tag, error) {
	out, err := c.api.ListTagsForResource(ctx, &cloudfront.ListTagsForResourceInput{Resource: aws.String(arn)})
	if err != nil {
		return nil, err
	}
	if out.Tags == nil {
		return nil, nil
	}
	tags := make([]Tag, 0, len(out.Tags.Items))
	for _, t := range out.Tags.Items {
		tags = append(tags, Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return tags, nil
}

func (c *CloudFront) CreateInvalidation(ctx context.Context, id string, paths []string) (string, error) {
	out, err := c.api.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(id),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return "", err
	}
	if out.Invalidation == nil {
		return "", nil
	}
	return aws.ToString(out.Invalidation.Id), nil
}
