package jobflow

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/jobflow/internal/common/logging"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

const API_ROOT = "/api/v1"

type instanceView struct {
	Operation   string            `json:"operation"`
	AggregateId string            `json:"aggregateId"`
	JobIds      []string          `json:"jobIds"`
	Fingerprint string            `json:"fingerprint"`
	State       eligibility.State `json:"state"`
	ExternalId  string            `json:"externalId,omitempty"`
}

type statusView struct {
	Instances []instanceView `json:"instances"`
	Errors    []string       `json:"errors,omitempty"`
}

// BuildServer returns the read-only HTTP API of a project. /metrics serves the metrics gathered by gatherer.
func BuildServer(project *Project, gatherer prometheus.Gatherer) *echo.Echo {
	logger := logging.ForComponent("api")
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		logging.WithStacktrace(logger, err).Warnf("%s %s failed", c.Request().Method, c.Request().URL)
	}
	e.Use(middleware.Recover())
	// logging for server-side latency.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			begin := time.Now()
			err := next(c)
			logger.WithFields(log.Fields{
				"method":  c.Request().Method,
				"path":    c.Request().URL.Path,
				"status":  c.Response().Status,
				"latency": time.Since(begin),
			}).Debug("request served")
			return err
		}
	})

	e.GET("/health", HealthHandler(project))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET(API_ROOT+"/status", StatusHandler(project))
	e.GET(API_ROOT+"/records", RecordsHandler(project))
	e.GET(API_ROOT+"/labels", LabelsHandler(project))
	return e
}

func HealthHandler(project *Project) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := project.HealthCheck(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return c.String(http.StatusOK, "ok")
	}
}

// filterFromQuery reads ?operation=a,b&group=g&job=glob from the request.
func filterFromQuery(c echo.Context) eligibility.Filter {
	filter := eligibility.Filter{Group: c.QueryParam("group")}
	if ops := c.QueryParam("operation"); ops != "" {
		filter.Operations = strings.Split(ops, ",")
	}
	if jobs := c.QueryParam("job"); jobs != "" {
		filter.JobIds = strings.Split(jobs, ",")
	}
	return filter
}

func StatusHandler(project *Project) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := project.Status(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		view := statusView{Instances: make([]instanceView, 0, len(result.Instances))}
		for _, instance := range result.Instances {
			view.Instances = append(view.Instances, instanceView{
				Operation:   instance.Operation.Name,
				AggregateId: instance.Aggregate.Id(),
				JobIds:      instance.Aggregate.JobIds(),
				Fingerprint: instance.Fingerprint,
				State:       instance.State,
				ExternalId:  instance.ExternalId,
			})
		}
		if result.Errors != nil {
			view.Errors = []string{result.Errors.Error()}
		}
		return c.JSON(http.StatusOK, view)
	}
}

func RecordsHandler(project *Project) echo.HandlerFunc {
	return func(c echo.Context) error {
		records := project.Tracker().Records()
		if records == nil {
			records = []*schedulerobjects.SubmissionRecord{}
		}
		return c.JSON(http.StatusOK, records)
	}
}

func LabelsHandler(project *Project) echo.HandlerFunc {
	return func(c echo.Context) error {
		labels, err := project.Labels(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, labels)
	}
}
