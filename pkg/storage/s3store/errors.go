package s3store

import (
	"errors"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

// classify maps an SDK error onto the storage taxonomy.
func classify(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	return storage.NewError(codeOf(err), op, bucket, key, err)
}

func codeOf(err error) storage.Code {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return storage.CodeNotFound
		case "AccessDenied", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"ExpiredToken", "InvalidToken", "BucketAlreadyExists", "AccountProblem":
			return storage.CodePermission
		case "EntityTooLarge", "MaxMessageLengthExceeded":
			return storage.CodeSizeLimit
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return storage.CodeNotFound
		case http.StatusForbidden, http.StatusUnauthorized:
			return storage.CodePermission
		case http.StatusRequestEntityTooLarge:
			return storage.CodeSizeLimit
		}
	}
	return storage.CodeTransport
}

// isConflict reports a lost conditional write: someone else changed the object between
// our read and our write.
func isConflict(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusPreconditionFailed, http.StatusConflict:
			return true
		}
	}
	return false
}

func isOwnedBucket(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}

func isMissingBucket(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket"
}
