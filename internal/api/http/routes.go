package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/cvc-collector/internal/speed"
	"github.com/i474232898/cvc-collector/internal/store"
)

var validate = validator.New()

// StatusProvider exposes read-only collector state. It is implemented by speed.Collector.
type StatusProvider interface {
	Status() speed.Status
	Station(slug string) (speed.StationStatus, bool)
}

// PointReader reads written points back. It is implemented by store.MemoryStore.
type PointReader interface {
	GetLatest(database, station string) (speed.Point, error)
	GetRange(database, station string, from, to time.Time) ([]speed.Point, error)
}

// Options carries values reported by the status endpoint that the collector
// itself does not know. When Points is set, the station point routes are
// served from it.
type Options struct {
	CheckInterval time.Duration
	Version       string
	Points        PointReader
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. metrics may be
// nil, in which case /metrics is not served.
func RegisterRoutes(app *fiber.App, collector StatusProvider, metrics http.Handler, opts Options) {
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		st := collector.Status()
		return c.JSON(fiber.Map{
			"version":       opts.Version,
			"checkInterval": opts.CheckInterval.String(),
			"lookbackDays":  st.LookbackDays,
			"database":      st.Database,
			"cycles":        st.Cycles,
			"lastCycle":     st.LastCycle,
			"lastError":     st.LastError,
		})
	})

	v1.Get("/stations", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"stations": collector.Status().Stations,
		})
	})

	v1.Get("/stations/:slug", func(c *fiber.Ctx) error {
		q := stationQuery{Slug: c.Params("slug")}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid station slug")
		}

		st, ok := collector.Station(q.Slug)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "unknown station")
		}
		return c.JSON(st)
	})

	if opts.Points == nil {
		return
	}

	v1.Get("/stations/:slug/points/latest", func(c *fiber.Ctx) error {
		q := stationQuery{Slug: c.Params("slug")}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid station slug")
		}

		point, err := opts.Points.GetLatest(collector.Status().Database, q.Slug)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no points for requested station")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read points")
		}
		return c.JSON(point)
	})

	v1.Get("/stations/:slug/points", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		points, err := opts.Points.GetRange(collector.Status().Database, req.Station.Slug, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no points for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read points")
		}

		return c.JSON(fiber.Map{
			"cvc":    req.Station.Slug,
			"from":   req.From,
			"to":     req.To,
			"points": points,
		})
	})
}

// stationQuery holds the path parameter identifying a station.
type stationQuery struct {
	Slug string `validate:"required,max=64,printascii,excludesall=/?#%"`
}

// rangeQuery holds the parameters for the points endpoint.
type rangeQuery struct {
	Station stationQuery
	From    time.Time `validate:"required"`
	To      time.Time `validate:"required,gtefield=From"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	r.Station = stationQuery{Slug: c.Params("slug")}

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	r.From = from
	r.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
