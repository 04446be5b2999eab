package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/TTT3216/ic2/internal/engine"
	"github.com/TTT3216/ic2/internal/model"
	"github.com/TTT3216/ic2/internal/pool"
	"github.com/TTT3216/ic2/internal/work/compress"
	"github.com/TTT3216/ic2/internal/work/mailer"
)

// Multipart parts beyond this are spooled to temporary files.
const multipartMemory = 32 << 20

var validate = validator.New()

// submitResponse is the JSON response for an accepted submission.
type submitResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

type mailForm struct {
	EmailAddress string `validate:"required,email"`
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		s.writeError(w, http.StatusBadRequest, "no image files selected")
		return
	}

	maxSizeKB := 0
	if v := r.FormValue("max_size_kb"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "max_size_kb must be a non-negative integer")
			return
		}
		maxSizeKB = n
	}

	files := make([]compress.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			s.logger.Error("read uploaded image", "file", fh.Filename, "error", err)
			s.writeError(w, http.StatusBadRequest, "failed to read uploaded file")
			return
		}
		files = append(files, compress.File{Name: fh.Filename, Data: data})
	}

	input, err := compress.Request{Files: files, MaxSizeKB: maxSizeKB}.Encode()
	if err != nil {
		s.logger.Error("encode compress request", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	id, err := s.engine.Submit(r.Context(), model.KindCompress, input)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{
		Message: "image compression accepted",
		TaskID:  id,
	})
}

func (s *Server) handleMail(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := mailForm{EmailAddress: r.FormValue("email_address")}
	if err := validate.Struct(form); err != nil {
		s.writeError(w, http.StatusBadRequest, "a valid email_address is required")
		return
	}

	headers := r.MultipartForm.File["zip_file"]
	if len(headers) == 0 {
		s.writeError(w, http.StatusBadRequest, "zip_file is required")
		return
	}
	fh := headers[0]
	data, err := readPart(fh)
	if err != nil {
		s.logger.Error("read uploaded archive", "error", err)
		s.writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	name := fh.Filename
	if name == "" {
		s.logger.Warn("archive uploaded without filename, using default", "filename", mailer.DefaultArchiveName)
		name = mailer.DefaultArchiveName
	}

	input, err := mailer.Request{
		To:          form.EmailAddress,
		ArchiveName: name,
		Archive:     data,
	}.Encode()
	if err != nil {
		s.logger.Error("encode mail request", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	id, err := s.engine.Submit(r.Context(), model.KindMail, input)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{
		Message: "mail delivery accepted",
		TaskID:  id,
	})
}

// parseMultipart parses a size-limited multipart body, writing the error
// response itself when it fails.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	err := r.ParseMultipartForm(multipartMemory)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return false
	}
	s.writeError(w, http.StatusBadRequest, "invalid multipart body")
	return false
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrSubmissionRejected):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pool.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusServiceUnavailable, "server busy, retry later")
	case errors.Is(err, pool.ErrPoolClosed):
		s.writeError(w, http.StatusServiceUnavailable, "server shutting down")
	default:
		s.logger.Error("submit task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
	}
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
