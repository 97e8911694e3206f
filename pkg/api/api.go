// Package api implements the REST API for effects, instances, formulas and
// host variables.
package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lemonberrylabs/particlefx/pkg/effect"
	"github.com/lemonberrylabs/particlefx/pkg/formula"
	"github.com/lemonberrylabs/particlefx/pkg/runtime"
	"github.com/lemonberrylabs/particlefx/pkg/store"
	"github.com/lemonberrylabs/particlefx/pkg/types"
)

// Options configures optional parts of the server.
type Options struct {
	// AccessLog enables per-request logging.
	AccessLog bool
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
}

// Server is the HTTP API server.
type Server struct {
	app    *fiber.App
	store  *store.Store
	driver *runtime.Driver
	vars   *runtime.VariableStore
}

// New creates a new API server.
func New(s *store.Store, d *runtime.Driver, vars *runtime.VariableStore, opts Options) *Server {
	srv := &Server{
		store:  s,
		driver: d,
		vars:   vars,
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New())
	}

	// Effects
	app.Post("/v1/effects", srv.createEffect)
	app.Get("/v1/effects", srv.listEffects)
	app.Get("/v1/effects/:effect", srv.getEffect)
	app.Patch("/v1/effects/:effect", srv.updateEffect)
	app.Delete("/v1/effects/:effect", srv.deleteEffect)

	// Instances
	app.Post("/v1/effects/:effect/instances", srv.startInstance)
	app.Get("/v1/effects/:effect/instances", srv.listInstances)
	app.Get("/v1/instances/:instance", srv.getInstance)
	app.Post("/v1/instances/:instance\\:end", srv.endInstance)

	// Formulas
	app.Post("/v1/formulas\\:compile", srv.compileFormula)
	app.Post("/v1/formulas\\:evaluate", srv.evaluateFormula)

	// Host variables
	app.Get("/v1/variables", srv.listVariables)
	app.Get("/v1/variables/:index", srv.getVariable)
	app.Put("/v1/variables/:index", srv.setVariable)

	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// --- Effect Handlers ---

type effectRequest struct {
	SourceContents string `json:"sourceContents"`
}

var validEffectID = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

const maxEffectIDLength = 63

func (s *Server) createEffect(c *fiber.Ctx) error {
	effectID := c.Query("effectId")
	if effectID == "" {
		return errorJSON(c, 400, "INVALID_ARGUMENT", "effectId query parameter is required")
	}
	if !validEffectID.MatchString(effectID) || len(effectID) > maxEffectIDLength {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid effectId %q", effectID))
	}

	var req effectRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if req.SourceContents == "" {
		return errorJSON(c, 400, "INVALID_ARGUMENT", "sourceContents is required")
	}

	e, err := s.store.CreateEffect(effectID, req.SourceContents)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(200).JSON(effectToJSON(e))
}

func (s *Server) listEffects(c *fiber.Ctx) error {
	effects := s.store.ListEffects()

	items := make([]fiber.Map, len(effects))
	for i, e := range effects {
		items[i] = effectToJSON(e)
	}

	return c.JSON(fiber.Map{
		"effects": items,
	})
}

func (s *Server) getEffect(c *fiber.Ctx) error {
	e, err := s.store.GetEffect(c.Params("effect"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(effectToJSON(e))
}

func (s *Server) updateEffect(c *fiber.Ctx) error {
	var req effectRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if req.SourceContents == "" {
		return errorJSON(c, 400, "INVALID_ARGUMENT", "sourceContents is required")
	}

	e, err := s.store.UpdateEffect(c.Params("effect"), req.SourceContents)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(effectToJSON(e))
}

func (s *Server) deleteEffect(c *fiber.Ctx) error {
	if err := s.store.DeleteEffect(c.Params("effect")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{})
}

// --- Instance Handlers ---

type startInstanceRequest struct {
	Origin effect.Vec3 `json:"origin"`
}

func (s *Server) startInstance(c *fiber.Ctx) error {
	e, err := s.store.GetEffect(c.Params("effect"))
	if err != nil {
		return writeError(c, err)
	}

	var req startInstanceRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}

	inst, err := s.driver.Start(e.ID, e.Compiled, req.Origin)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(200).JSON(instanceToJSON(inst))
}

func (s *Server) listInstances(c *fiber.Ctx) error {
	effectID := c.Params("effect")
	if _, err := s.store.GetEffect(effectID); err != nil {
		return writeError(c, err)
	}

	items := []fiber.Map{}
	for _, inst := range s.driver.List() {
		if inst.EffectID == effectID {
			items = append(items, instanceToJSON(inst))
		}
	}
	return c.JSON(fiber.Map{
		"instances": items,
	})
}

func (s *Server) getInstance(c *fiber.Ctx) error {
	inst, err := s.driver.Get(c.Params("instance"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(instanceToJSON(inst))
}

func (s *Server) endInstance(c *fiber.Ctx) error {
	inst, err := s.driver.End(c.Params("instance"), c.QueryBool("smooth", false))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(instanceToJSON(inst))
}

// --- Formula Handlers ---

type formulaRequest struct {
	Formula string   `json:"formula"`
	Elapsed float64  `json:"elapsed"`
	Rand    float64  `json:"rand"`
	Rand2   float64  `json:"rand2"`
	Unit    *float64 `json:"unit"`
}

func (s *Server) compileFormula(c *fiber.Ctx) error {
	var req formulaRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}

	tokens, err := formula.Tokenize(req.Formula)
	if err != nil {
		return writeError(c, err)
	}
	root, err := formula.Build(tokens)
	if err != nil {
		return writeError(c, err)
	}

	items := make([]fiber.Map, len(tokens))
	for i, tok := range tokens {
		items[i] = fiber.Map{
			"type":     tok.Type.String(),
			"category": tok.Category().String(),
			"value":    tok.Value,
			"position": tok.Pos,
		}
	}

	return c.JSON(fiber.Map{
		"tree":   formula.Format(root),
		"tokens": items,
	})
}

func (s *Server) evaluateFormula(c *fiber.Ctx) error {
	var req formulaRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}

	f, err := formula.Compile(req.Formula)
	if err != nil {
		return writeError(c, err)
	}

	unit := 1.0
	if req.Unit != nil {
		unit = *req.Unit
	}
	v, err := f.Eval(&formula.Context{
		Elapsed:    req.Elapsed,
		Rand:       req.Rand,
		Rand2:      req.Rand2,
		EngineUnit: unit,
		Variables:  s.vars,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"tree":  f.String(),
		"value": v,
	})
}

// --- Variable Handlers ---

type variableRequest struct {
	Value *float64 `json:"value"`
}

func (s *Server) listVariables(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"variables": s.vars.Snapshot(),
	})
}

func (s *Server) getVariable(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid variable index %q", c.Params("index")))
	}
	v, err := s.vars.Variable(index)
	if err != nil {
		return errorJSON(c, 404, "NOT_FOUND", err.Error())
	}
	return c.JSON(fiber.Map{
		"index": index,
		"value": v,
	})
}

func (s *Server) setVariable(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid variable index %q", c.Params("index")))
	}

	var req variableRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Value == nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", "value is required")
	}

	if err := s.vars.Set(index, *req.Value); err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", err.Error())
	}
	return c.JSON(fiber.Map{
		"index": index,
		"value": *req.Value,
	})
}

// --- Directory Loading ---

// WatchDir loads all .yaml, .yml and .json effect files from dir. The file
// name (sans extension) becomes the effect ID. Files that fail to load are
// logged and skipped.
func (s *Server) WatchDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading effects directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		base := strings.TrimSuffix(name, ext)
		effectID := strings.ToLower(base)

		if effectID != base {
			log.Printf("Warning: lowercased effect ID %q (from file %q)", effectID, name)
		}

		if !validEffectID.MatchString(effectID) || len(effectID) > maxEffectIDLength {
			log.Printf("Warning: skipping file %q: invalid effect ID %q", name, effectID)
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Printf("Warning: could not read %q: %v", name, err)
			continue
		}

		if _, err := s.store.CreateEffect(effectID, string(data)); err != nil {
			log.Printf("Warning: could not load %q: %v", name, err)
			continue
		}

		loaded++
		log.Printf("Loaded effect %q from %s", effectID, name)
	}

	log.Printf("Loaded %d effect(s) from %s", loaded, dir)
	return nil
}

// --- Errors ---

func errorJSON(c *fiber.Ctx, code int, status, message string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

// writeError maps an error from the store, driver or formula layers to an
// HTTP error response.
func writeError(c *fiber.Ctx, err error) error {
	var (
		ce *effect.CompileError
		pe *effect.ParseError
		fe *types.FormulaError
	)

	switch {
	case errors.As(err, &ce):
		details := make([]fiber.Map, len(ce.Fields))
		for i, f := range ce.Fields {
			details[i] = fiber.Map{
				"field":   f.Field,
				"message": f.Err.Error(),
				"tag":     types.TagOf(f.Err),
			}
		}
		return c.Status(400).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    400,
				"message": err.Error(),
				"status":  "INVALID_ARGUMENT",
				"details": details,
			},
		})
	case errors.As(err, &pe):
		return c.Status(400).JSON(fiber.Map{
			"error": fiber.Map{
				"code":     400,
				"message":  pe.Message,
				"status":   "INVALID_ARGUMENT",
				"location": pe.Location,
			},
		})
	case errors.As(err, &fe):
		body := fiber.Map{
			"code":    400,
			"message": fe.Message,
			"status":  "INVALID_ARGUMENT",
			"tags":    fe.Tags,
		}
		if fe.Pos >= 0 {
			body["position"] = fe.Pos
		}
		return c.Status(400).JSON(fiber.Map{"error": body})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, runtime.ErrInstanceNotFound):
		return errorJSON(c, 404, "NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		return errorJSON(c, 409, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, runtime.ErrTooManyInstances):
		return errorJSON(c, 429, "RESOURCE_EXHAUSTED", err.Error())
	default:
		return errorJSON(c, 500, "INTERNAL", err.Error())
	}
}

// --- Helpers ---

func effectToJSON(e *store.Effect) fiber.Map {
	formulas := fiber.Map{}
	for _, nf := range e.Compiled.Formulas() {
		formulas[nf.Field] = nf.Formula.String()
	}
	return fiber.Map{
		"name":           e.ID,
		"displayName":    e.Name,
		"revisionId":     e.RevisionID,
		"createTime":     e.CreateTime.Format(time.RFC3339),
		"updateTime":     e.UpdateTime.Format(time.RFC3339),
		"sourceContents": e.Source,
		"definition":     e.Compiled.Def,
		"formulas":       formulas,
	}
}

func instanceToJSON(inst runtime.InstanceSnapshot) fiber.Map {
	result := fiber.Map{
		"name":      inst.ID,
		"effect":    inst.EffectID,
		"state":     inst.State,
		"origin":    inst.Origin,
		"startTime": inst.StartTime.Format(time.RFC3339),
		"age":       inst.Age,
		"alive":     inst.Alive,
	}
	if inst.Error != "" {
		result["error"] = inst.Error
	}
	if inst.Particles != nil {
		particles := make([]fiber.Map, len(inst.Particles))
		for i, p := range inst.Particles {
			particles[i] = fiber.Map{
				"elapsed": p.Elapsed,
				"rand":    p.Rand,
				"rand2":   p.Rand2,
				"position": fiber.Map{
					"x": types.JSONNumber(p.Position.X),
					"y": types.JSONNumber(p.Position.Y),
					"z": types.JSONNumber(p.Position.Z),
				},
				"size":    types.JSONNumber(p.Size),
				"opacity": types.JSONNumber(p.Opacity),
			}
		}
		result["particles"] = particles
	}
	return result
}
