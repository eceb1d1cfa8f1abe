package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

// Префикс ссылок на материалы, сохранённые в локальном хранилище.
const RefPrefix = "evidence/"

// sniffLen: сколько байт читаем для определения типа файла.
const sniffLen = 512

var (
	ErrEmptyFile       = errors.New("storage: файл пуст")
	ErrTooLarge        = errors.New("storage: размер файла превышает лимит")
	ErrUnsupportedType = errors.New("storage: неподдерживаемый тип файла")
	ErrInvalidRef      = errors.New("storage: некорректная ссылка на файл")
)

// Разрешённые типы материалов спора: фото и документы.
var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// EvidenceStorage хранит файлы материалов споров на диске.
type EvidenceStorage struct {
	rootPath       string
	maxUploadBytes int64
}

// NewEvidenceStorage создаёт файловое хранилище.
func NewEvidenceStorage(rootPath string, maxUploadMB int64) (*EvidenceStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}

	return &EvidenceStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// Save проверяет реальный тип файла по магическим байтам, сохраняет его
// и возвращает ссылку вида evidence/<dispute>/<file>.
func (s *EvidenceStorage) Save(ctx context.Context, disputeID, uploaderID uuid.UUID, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", 0, fmt.Errorf("storage: не удалось прочитать файл: %w", err)
	}
	if n == 0 {
		return "", 0, ErrEmptyFile
	}
	head = head[:n]

	ext, err := detectExtension(head)
	if err != nil {
		return "", 0, err
	}

	disputeDir := filepath.Join(s.rootPath, disputeID.String())
	if err := os.MkdirAll(disputeDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("storage: не удалось создать каталог спора: %w", err)
	}

	fileName := fmt.Sprintf("%s_%d.%s", uploaderID.String(), time.Now().UnixNano(), ext)
	targetPath := filepath.Join(disputeDir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	limitedReader := io.LimitedReader{R: io.MultiReader(bytes.NewReader(head), r), N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, &limitedReader)
	if err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: ошибка записи файла: %w", err)
	}

	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("%w: %d байт", ErrTooLarge, s.maxUploadBytes)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	return RefPrefix + disputeID.String() + "/" + fileName, written, nil
}

// Delete удаляет файл по ссылке, выданной Save.
func (s *EvidenceStorage) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.pathFor(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}

// pathFor переводит ссылку в путь внутри корня хранилища.
func (s *EvidenceStorage) pathFor(ref string) (string, error) {
	rel, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok {
		return "", ErrInvalidRef
	}

	parts := strings.Split(rel, "/")
	if len(parts) != 2 {
		return "", ErrInvalidRef
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return "", ErrInvalidRef
	}
	if parts[1] == "" || parts[1] != filepath.Base(parts[1]) || strings.Contains(parts[1], "..") {
		return "", ErrInvalidRef
	}

	return filepath.Join(s.rootPath, parts[0], parts[1]), nil
}

// detectExtension определяет тип файла по содержимому, а не по имени.
func detectExtension(head []byte) (string, error) {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "", ErrUnsupportedType
	}
	if !allowedMimeTypes[kind.MIME.Value] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, kind.MIME.Value)
	}
	return kind.Extension, nil
}
