package attachment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/repository/cockroach"
	"healthbridge-backend/pkg/constants"
	apperrors "healthbridge-backend/pkg/errors"
	"healthbridge-backend/pkg/metrics"
)

// SessionRepository resolves the session an attachment belongs to
type SessionRepository interface {
	GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
}

// Service issues presigned URLs for message attachments. Clients upload
// directly to object storage; the service never proxies file bytes.
type Service struct {
	minioClient *minio.Client
	bucketName  string
	sessionRepo SessionRepository
}

// Config holds object storage settings
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
}

// NewService creates a new attachment service and ensures the bucket exists
func NewService(ctx context.Context, cfg Config, sessionRepo SessionRepository) (*Service, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := minioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Service{
		minioClient: minioClient,
		bucketName:  cfg.BucketName,
		sessionRepo: sessionRepo,
	}, nil
}

// UploadURLInput describes the file a participant wants to attach
type UploadURLInput struct {
	FileName    string `json:"file_name" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
	ContentType string `json:"content_type"`
}

// UploadURLOutput carries the presigned upload target. ObjectURL is the
// stable URL the client puts into the message attachment after uploading.
type UploadURLOutput struct {
	UploadURL string    `json:"upload_url"`
	ObjectURL string    `json:"object_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GenerateUploadURL creates a presigned PUT URL scoped to the session.
// Only participants of a live session may attach files.
func (s *Service) GenerateUploadURL(ctx context.Context, callerID, sessionID uuid.UUID, input *UploadURLInput) (*UploadURLOutput, error) {
	session, err := s.authorize(ctx, callerID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase.IsTerminal() {
		return nil, apperrors.InvalidPhaseError("cannot attach files to a " + string(session.Phase) + " session")
	}

	if input.FileSize <= 0 || input.FileSize > constants.MaxAttachmentSize {
		return nil, apperrors.ValidationError(fmt.Sprintf("file size must be between 1 and %d bytes", constants.MaxAttachmentSize))
	}
	if input.FileName == "" || len(input.FileName) > constants.MaxAttachmentNameLength {
		return nil, apperrors.ValidationError("invalid file name")
	}

	objectKey := fmt.Sprintf("sessions/%s/%s/%s", sessionID, uuid.New(), input.FileName)

	presignedURL, err := s.minioClient.PresignedPutObject(ctx, s.bucketName, objectKey, constants.PresignedURLExpiry)
	if err != nil {
		metrics.AttachmentErrorsTotal.WithLabelValues("upload_url").Inc()
		return nil, apperrors.StorageError(err)
	}

	metrics.AttachmentUploadURLsIssuedTotal.Inc()
	return &UploadURLOutput{
		UploadURL: presignedURL.String(),
		ObjectURL: fmt.Sprintf("%s/%s", s.bucketName, objectKey),
		ExpiresAt: time.Now().UTC().Add(constants.PresignedURLExpiry),
	}, nil
}

// GenerateDownloadURL creates a presigned GET URL for an attachment object.
// The object key must live under the caller's session prefix, so one
// session's participants can never reach another session's files.
func (s *Service) GenerateDownloadURL(ctx context.Context, callerID, sessionID uuid.UUID, objectKey string) (string, error) {
	if _, err := s.authorize(ctx, callerID, sessionID); err != nil {
		return "", err
	}

	prefix := fmt.Sprintf("sessions/%s/", sessionID)
	if len(objectKey) <= len(prefix) || objectKey[:len(prefix)] != prefix {
		return "", apperrors.UnauthorizedError("attachment does not belong to this session")
	}

	presignedURL, err := s.minioClient.PresignedGetObject(ctx, s.bucketName, objectKey, constants.PresignedURLExpiry, nil)
	if err != nil {
		metrics.AttachmentErrorsTotal.WithLabelValues("download_url").Inc()
		return "", apperrors.StorageError(err)
	}
	return presignedURL.String(), nil
}

func (s *Service) authorize(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if err == cockroach.ErrNotFound {
			return nil, apperrors.NotFoundError("session")
		}
		return nil, apperrors.DatabaseError(err)
	}
	if _, ok := session.RoleOf(callerID); !ok {
		return nil, apperrors.UnauthorizedError("caller is not a participant of this session")
	}
	return session, nil
}
