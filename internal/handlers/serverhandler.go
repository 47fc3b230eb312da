package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"

	"github.com/seek-ret/fwbundle/internal/compression"
	"github.com/seek-ret/fwbundle/internal/datatypes"
	"github.com/seek-ret/fwbundle/internal/remote"
)

// TargetResolver lists the targets of a firmware bundle.
type TargetResolver interface {
	Targets(ctx context.Context, archiveURL string) ([]datatypes.Target, error)
}

// FirmwareFetcher extracts target binaries from a firmware bundle.
type FirmwareFetcher interface {
	Fetch(ctx context.Context, archiveURL, targetPrefix string) ([]byte, error)
	FetchMany(ctx context.Context, archiveURL string, targetPrefixes []string) ([]datatypes.FirmwareBinary, error)
}

// LocalFirmwareStore holds uploaded firmware images.
type LocalFirmwareStore interface {
	Register(data []byte) string
	Lookup(id string) ([]byte, bool)
	List() []datatypes.LocalFirmware
}

// RoutesHandler is the implementation for all handlers of the firmware bundle server.
type RoutesHandler struct {
	resolver       TargetResolver
	fetcher        FirmwareFetcher
	store          LocalFirmwareStore
	bundles        remote.BundleLister
	maxUploadBytes int64
}

// NewRoutesHandler returns a new instance of the RoutesHandler. bundles may be nil when no bucket is configured.
func NewRoutesHandler(resolver TargetResolver, fetcher FirmwareFetcher, store LocalFirmwareStore, bundles remote.BundleLister, maxUploadBytes int64) RoutesHandler {
	return RoutesHandler{
		resolver:       resolver,
		fetcher:        fetcher,
		store:          store,
		bundles:        bundles,
		maxUploadBytes: maxUploadBytes,
	}
}

var binaryHeaders = map[string]string{
	"Content-Description":       "File Transfer",
	"Content-Transfer-Encoding": "binary",
}

// statusOf maps the error taxonomy to HTTP status codes.
func statusOf(err error) int {
	var notFound *datatypes.NotFoundError
	var format *datatypes.FormatError
	var transport *datatypes.TransportError
	var protocol *datatypes.ProtocolError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &format):
		return http.StatusUnprocessableEntity
	case errors.As(err, &transport), errors.As(err, &protocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(ginContext *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%+v", err)
	}
	_ = ginContext.Error(err)
	ginContext.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// ListTargets returns the flashable targets of the bundle given in the url query param.
func (routesHandler RoutesHandler) ListTargets(ginContext *gin.Context) {
	var query datatypes.BundleQuery
	if err := ginContext.BindQuery(&query); err != nil {
		_ = ginContext.AbortWithError(http.StatusBadRequest, err)
		return
	}

	targets, err := routesHandler.resolver.Targets(ginContext, query.URL)
	if err != nil {
		abortWithError(ginContext, eris.Wrapf(err, "failed listing targets of %q", query.URL))
		return
	}
	ginContext.JSON(http.StatusOK, targets)
}

// DownloadFirmware receives the bundle url and a target prefix and downloads the target binary as is.
func (routesHandler RoutesHandler) DownloadFirmware(ginContext *gin.Context) {
	var query datatypes.BundleQuery
	if err := ginContext.BindQuery(&query); err != nil {
		_ = ginContext.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if len(query.Targets) != 1 || query.Targets[0] == "" {
		ginContext.AbortWithStatusJSON(http.StatusBadRequest, "expected a single target query param")
		return
	}

	data, err := routesHandler.fetcher.Fetch(ginContext, query.URL, query.Targets[0])
	if err != nil {
		abortWithError(ginContext, eris.Wrapf(err, "failed fetching target %q of %q", query.Targets[0], query.URL))
		return
	}
	ginContext.DataFromReader(http.StatusOK, int64(len(data)), "application/octet-stream", bytes.NewReader(data), binaryHeaders)
}

// DownloadFirmwareBundle fetches several targets of a bundle and returns them as a tar.gz.
func (routesHandler RoutesHandler) DownloadFirmwareBundle(ginContext *gin.Context) {
	var query datatypes.BundleQuery
	if err := ginContext.BindQuery(&query); err != nil {
		_ = ginContext.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if len(query.Targets) == 0 {
		ginContext.AbortWithStatusJSON(http.StatusBadRequest, "missing target query param")
		return
	}

	binaries, err := routesHandler.fetcher.FetchMany(ginContext, query.URL, query.Targets)
	if err != nil {
		abortWithError(ginContext, eris.Wrapf(err, "failed fetching targets of %q", query.URL))
		return
	}

	compressedOutput, err := compression.PackTarGZ(binaries, time.Now())
	if err != nil {
		log.Printf("Failed compressing results: %+v", err)
		ginContext.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	headers := map[string]string{
		"Content-Description":       "File Transfer",
		"Content-Transfer-Encoding": "binary",
		"Content-Disposition":       "attachment; filename=firmware.tar.gz",
	}
	ginContext.DataFromReader(http.StatusOK, int64(compressedOutput.Len()), "application/gzip", compressedOutput, headers)
}

// readUpload reads the firmware image from the multipart "firmware" field.
func (routesHandler RoutesHandler) readUpload(ginContext *gin.Context) ([]byte, error) {
	fileHeader, err := ginContext.FormFile("firmware")
	if err != nil {
		return nil, eris.Wrap(err, "failed reading firmware from request")
	}
	if fileHeader.Size > routesHandler.maxUploadBytes {
		return nil, compression.ErrTooLarge
	}

	reader, err := fileHeader.Open()
	if err != nil {
		return nil, eris.Wrap(err, "failed opening uploaded firmware")
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, routesHandler.maxUploadBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "failed reading uploaded firmware")
	}
	if int64(len(data)) > routesHandler.maxUploadBytes {
		return nil, compression.ErrTooLarge
	}

	return compression.DecodeUpload(data, routesHandler.maxUploadBytes)
}

// RegisterLocalFirmware stores an uploaded firmware image and returns its id.
func (routesHandler RoutesHandler) RegisterLocalFirmware(ginContext *gin.Context) {
	data, err := routesHandler.readUpload(ginContext)
	if errors.Is(err, compression.ErrTooLarge) {
		ginContext.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		_ = ginContext.AbortWithError(http.StatusBadRequest, err)
		return
	}

	id := routesHandler.store.Register(data)
	ginContext.JSON(http.StatusCreated, gin.H{"id": id})
}

// ListLocalFirmware describes the uploaded firmware images still held.
func (routesHandler RoutesHandler) ListLocalFirmware(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, routesHandler.store.List())
}

// DownloadLocalFirmware returns an uploaded firmware image by id.
func (routesHandler RoutesHandler) DownloadLocalFirmware(ginContext *gin.Context) {
	id := ginContext.Param("id")
	data, ok := routesHandler.store.Lookup(id)
	if !ok {
		ginContext.AbortWithStatusJSON(http.StatusNotFound, fmt.Sprintf("no local firmware %q", id))
		return
	}
	ginContext.DataFromReader(http.StatusOK, int64(len(data)), "application/octet-stream", bytes.NewReader(data), binaryHeaders)
}

// ListBundles returns the bundles available in the configured bucket.
func (routesHandler RoutesHandler) ListBundles(ginContext *gin.Context) {
	if routesHandler.bundles == nil {
		ginContext.AbortWithStatusJSON(http.StatusNotFound, "no bundle bucket configured")
		return
	}
	bundles, err := routesHandler.bundles.List(ginContext)
	if err != nil {
		_ = ginContext.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	ginContext.JSON(http.StatusOK, bundles)
}
