package rest

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/worker"
)

type queuedResponse struct {
	Status string `json:"status"`
}

// AudioWebhook handles POST /webhooks/audio?uid=&sample_rate=
// The chunk is queued for background analysis.
func (h *Handler) AudioWebhook(c echo.Context) error {
	uid := c.QueryParam("uid")
	if uid == "" {
		return writeError(c, http.StatusBadRequest, "uid is required")
	}
	job, err := readAudioJob(c)
	if err != nil {
		return audioError(c, err)
	}
	job.UID = uid

	if err := h.queue.Submit(job); err != nil {
		return writeError(c, http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusAccepted, queuedResponse{Status: "queued"})
}

// AnalyzeAudio handles POST /audio/analyze?sample_rate=
// Detection runs inline and nothing is stored.
func (h *Handler) AnalyzeAudio(c echo.Context) error {
	job, err := readAudioJob(c)
	if err != nil {
		return audioError(c, err)
	}
	buf, err := worker.Decode(job.Payload, job.Format, job.SampleRate)
	if err != nil {
		return writeError(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.DetectEating(buf))
}

var (
	errEmptyBody     = errors.New("request body is empty")
	errBadSampleRate = errors.New("sample_rate must be a positive integer")
	errReadBody      = errors.New("failed to read body")
)

func readAudioJob(c echo.Context) (worker.Job, error) {
	sampleRate := domain.DefaultSampleRate
	if raw := c.QueryParam("sample_rate"); raw != "" {
		sr, err := strconv.Atoi(raw)
		if err != nil || sr <= 0 {
			return worker.Job{}, errBadSampleRate
		}
		sampleRate = sr
	}

	formatName := c.QueryParam("format")
	if formatName == "" {
		formatName = c.Request().Header.Get(echo.HeaderContentType)
	}
	format, err := worker.ParseFormat(formatName)
	if err != nil {
		return worker.Job{}, err
	}

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return worker.Job{}, errReadBody
	}
	if len(payload) == 0 {
		return worker.Job{}, errEmptyBody
	}
	return worker.Job{Payload: payload, Format: format, SampleRate: sampleRate}, nil
}

func audioError(c echo.Context, err error) error {
	if errors.Is(err, worker.ErrUnsupportedFormat) {
		return writeError(c, http.StatusUnsupportedMediaType, err.Error())
	}
	return writeError(c, http.StatusBadRequest, err.Error())
}
