package azurestore

import (
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

func classify(op, containerName, blobName string, err error) error {
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.InvalidBlobType) {
		return storage.NewError(storage.CodeTransport, op, containerName, blobName,
			errors.Join(storage.ErrNotAppendBlob, err))
	}
	return storage.NewError(codeOf(err), op, containerName, blobName, err)
}

func codeOf(err error) storage.Code {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		return storage.CodeNotFound
	case bloberror.HasCode(err,
		bloberror.AuthorizationFailure,
		bloberror.AuthorizationPermissionMismatch,
		bloberror.AuthenticationFailed,
		bloberror.InsufficientAccountPermissions):
		return storage.CodePermission
	case bloberror.HasCode(err,
		bloberror.RequestBodyTooLarge,
		bloberror.BlockCountExceedsLimit,
		bloberror.MaxBlobSizeConditionNotMet):
		return storage.CodeSizeLimit
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.ErrorCode == "PublicAccessNotPermitted" {
			return storage.CodePermission
		}
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return storage.CodeNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return storage.CodePermission
		case http.StatusRequestEntityTooLarge:
			return storage.CodeSizeLimit
		}
	}
	return storage.CodeTransport
}
