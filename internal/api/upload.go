package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/vanguard/internal/classify"
	"github.com/dharsanguruparan/vanguard/internal/intake"
	"github.com/dharsanguruparan/vanguard/internal/logging"
)

// maxFieldBytes bounds the lat/lon form values read before the file part.
const maxFieldBytes = 64

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "expecting multipart form")
		return
	}

	// lat/lon may come as query parameters or as form fields preceding the file.
	fields := map[string]string{
		"lat": r.URL.Query().Get("lat"),
		"lon": r.URL.Query().Get("lon"),
	}
	part, err := nextFilePart(mr, fields)
	if err != nil {
		respondUploadError(w, err)
		return
	}
	defer part.Close()

	lat, err := parseCoordinate(fields["lat"], 90)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_coordinates", "lat: "+err.Error())
		return
	}
	lon, err := parseCoordinate(fields["lon"], 180)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_coordinates", "lon: "+err.Error())
		return
	}

	resp, err := s.intake.Handle(r.Context(), intake.Request{
		Body:      part,
		MediaType: part.Header.Get("Content-Type"),
		FileName:  part.FileName(),
		Lat:       lat,
		Lon:       lon,
	})
	if err != nil {
		respondUploadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// nextFilePart returns the "file" part, collecting lat/lon fields seen first.
// Query values take precedence over form values.
func nextFilePart(mr *multipart.Reader, fields map[string]string) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errMissingFile
		}
		if err != nil {
			return nil, err
		}
		name := part.FormName()
		if name == "file" {
			return part, nil
		}
		if current, ok := fields[name]; ok && current == "" {
			raw, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				part.Close()
				return nil, err
			}
			fields[name] = strings.TrimSpace(string(raw))
		}
		part.Close()
	}
}

var errMissingFile = errors.New("missing file part")

func parseCoordinate(raw string, limit float64) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", raw)
	}
	if v < -limit || v > limit {
		return nil, fmt.Errorf("%v out of range", v)
	}
	return &v, nil
}

func respondUploadError(w http.ResponseWriter, err error) {
	var (
		rejection *intake.Rejection
		inference *classify.InferenceError
		tooBig    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &rejection):
		respondError(w, rejection.Reason.Status(), rejection.Reason.Code(), rejection.Detail)
	case errors.As(err, &inference):
		logging.Errorf("prediction failed: %v", err)
		respondError(w, http.StatusInternalServerError, "prediction_failed", err.Error())
	case errors.As(err, &tooBig), errors.Is(err, multipart.ErrMessageTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, intake.TooLarge.Code(), "request body too large")
	case errors.Is(err, errMissingFile):
		respondError(w, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required")
	default:
		logging.Errorf("upload failed: %v", err)
		respondError(w, http.StatusBadRequest, "bad_request", "failed to read upload")
	}
}
