package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ServeAudio streams a synthesized mp3 artifact.
func (s *APIV1Service) ServeAudio(c echo.Context) error {
	if s.AudioStorage == nil {
		return echo.NewHTTPError(http.StatusNotFound, "audio synthesis is disabled")
	}

	path, err := s.AudioStorage.Resolve(c.Param("filename"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "audio file not found").SetInternal(err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "audio/mpeg")
	return c.File(path)
}
