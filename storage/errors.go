package storage

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// NotFoundError reports a source object that does not exist. It is terminal
// for the item: retrying a missing blob cannot succeed.
type NotFoundError struct {
	Bucket string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object not found: %s/%s", e.Bucket, e.Key)
}

// IsNotFound reports whether err is a NotFoundError from this package.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// isMissingObject classifies a raw provider error as "the key does not
// exist" so it can be wrapped in a NotFoundError instead of retried.
func isMissingObject(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	// HeadObject and some S3-compatible stores answer with a bare 404
	// instead of a NoSuchKey body.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
