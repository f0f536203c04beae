/*
 * Copyright 2026 The DataGEMS Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api implements the HTTP API of the provenance explanation
// service.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/datagems-eosc/ap-explanation/conf"
	"github.com/datagems-eosc/ap-explanation/mapping"
	"github.com/datagems-eosc/ap-explanation/metric"
	"github.com/datagems-eosc/ap-explanation/repository"
	"github.com/datagems-eosc/ap-explanation/rewriter"
	"github.com/datagems-eosc/ap-explanation/service"
	"github.com/datagems-eosc/ap-explanation/types"
	"github.com/datagems-eosc/ap-explanation/utils/log"
)

const apiPrefix = "/apiv1"

const (
	statusSuccess          = "success"
	statusAlreadyAnnotated = "already_annotated"
	statusNotFound         = "not_found"
)

var (
	apiTimeout = time.Second * 10
)

func sendResponse(code int, success bool, msg interface{}, data interface{}, rw http.ResponseWriter) {
	msgStr := "ok"
	if msg != nil {
		msgStr = fmt.Sprint(msg)
	}
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(map[string]interface{}{
		"status":  msgStr,
		"success": success,
		"data":    data,
	})
}

// explainAPI defines provenance explanation API endpoints.
type explainAPI struct {
	registry *types.Registry
	rw       *rewriter.Rewriter
}

// annotationResult reports the outcome of one table/semiring pair of
// an annotate or remove request.
type annotationResult struct {
	Table    string `json:"table_name"`
	Semiring string `json:"semiring"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// session bundles the per-request database handles. Every request
// opens its own pool against the database named by the pipeline and
// closes it when the request ends.
type session struct {
	db   *sql.DB
	conn *sql.Conn
	svc  *service.Service
}

func (s *session) close() {
	s.conn.Close()
	s.db.Close()
}

func (a *explainAPI) openSession(ctx context.Context, database string) (s *session, err error) {
	info, ok := conf.GConf.Database(database)
	if !ok {
		err = errors.Wrapf(ErrUnknownDatabase, "database %q is not configured", database)
		return
	}

	dsn, err := info.DriverDSN()
	if err != nil {
		return
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		err = errors.Wrapf(err, "open database %q", database)
		return
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		err = errors.Wrapf(err, "connect to database %q", database)
		return
	}

	repo := repository.NewProvenance(conn, a.rw)
	if err = repo.EnsureSemiringSetup(ctx, conf.GConf.SetupVersion); err != nil {
		conn.Close()
		db.Close()
		return
	}

	s = &session{
		db:   db,
		conn: conn,
		svc:  service.NewService(repo),
	}
	return
}

// resolveSemirings returns the semirings a request addresses: the one
// named in the route, or every registered semiring when the route
// carries no name.
func (a *explainAPI) resolveSemirings(r *http.Request) (semirings []types.Semiring, err error) {
	names := a.registry.Names()
	if name, ok := mux.Vars(r)["semiring"]; ok {
		names = []string{name}
	}
	for _, name := range names {
		s, ok := a.registry.Lookup(name)
		if !ok {
			err = errors.Wrapf(ErrUnknownSemiring, "%q is not configured, available: %v",
				name, a.registry.Names())
			return
		}
		semirings = append(semirings, s)
	}
	return
}

func (a *explainAPI) explain(rw http.ResponseWriter, r *http.Request) {
	semirings, err := a.resolveSemirings(r)
	if err != nil {
		sendResponse(statusFromError(err), false, err, nil, rw)
		return
	}

	ap, err := ParseAP(r.Body)
	if err != nil {
		sendResponse(statusFromError(err), false, err, nil, rw)
		return
	}

	ctx := r.Context()
	sess, err := a.openSession(ctx, ap.Database)
	if err != nil {
		sendResponse(statusFromError(err), false, err, nil, rw)
		return
	}
	defer sess.close()

	for _, table := range ap.Tables {
		if _, err = sess.svc.AnnotateDataset(ctx, table, ap.Schema, semirings); err != nil {
			sendResponse(statusFromError(err), false, err, nil, rw)
			return
		}
	}

	results, qerr := sess.svc.ComputeProvenance(ctx, ap.Schema, ap.SQL, semirings)

	// Annotated tables reject some regular statements until the
	// annotation is removed, see
	// https://github.com/PierreSenellart/provsql/issues/67. Drop the
	// annotations again once the explanation is computed.
	for _, table := range ap.Tables {
		if _, err := sess.svc.RemoveAnnotation(ctx, table, ap.Schema, semirings); err != nil {
			log.WithField("table", table).WithError(err).
				Warning("remove annotation after explanation failed")
		}
	}

	if qerr != nil {
		sendResponse(statusFromError(qerr), false, qerr, nil, rw)
		return
	}
	sendResponse(http.StatusOK, true, nil, results, rw)
}

func (a *explainAPI) annotate(rw http.ResponseWriter, r *http.Request) {
	semirings, err := a.resolveSemirings(r)
	if err != nil {
		sendResponse(statusFromError(err), false, err, nil, rw)
		return
	}

	ap, err := ParseAP(r.Body)
	if err != nil {
		sendResponse(statusFromError(err), false, err, nil, rw)
		return
	}

	ctx := r.Context()
	sess, err := a.openSession(ctx, ap.Database)
	if err != nil {
		sendResponse(statusFromError(err), false, err, nil, rw)
		return
	}
	defer sess.close()

	results := make([]annotationResult, 0, len(ap.Tables)*len(semirings))
	for _, table := range ap.Tables {
		changed, err := sess.svc.AnnotateDataset(ctx, table, ap.Schema, semirings)
		if err != nil {
			sendResponse(statusFromError(err), false, err, nil, rw)
			return
		}
		for _, s := range semirings {
			res := annotationResult{
				Table:    table,
				Semiring: s.Name,
				Status:   statusSuccess,
				Message:  fmt.Sprintf("table %q annotated with semiring %q", table, s.Name),
			}
			if !changed {
				res.Status = statusAlreadyAnnotated
				res.Message = fmt.Sprintf("table %q is already annotated with semiring %q", table, s.Name)
			}
			results = append(results, res)
		}
	}
	sendResponse(http.StatusOK, true, nil, results, rw)
}

func (a *explainAPI) removeAnnotation(rw http.ResponseWriter, r *http.Request) {
	semirings, err := a.resolveSemirings(r)
	if err != nil {
		sendResponse(statusFromError(err), false, err, nil, rw)
		return
	}

	ap, err := ParseAP(r.Body)
	if err != nil {
		sendResponse(statusFromError(err), false, err, nil, rw)
		return
	}

	ctx := r.Context()
	sess, err := a.openSession(ctx, ap.Database)
	if err != nil {
		sendResponse(statusFromError(err), false, err, nil, rw)
		return
	}
	defer sess.close()

	results := make([]annotationResult, 0, len(ap.Tables)*len(semirings))
	for _, table := range ap.Tables {
		removed, err := sess.svc.RemoveAnnotation(ctx, table, ap.Schema, semirings)
		if err != nil {
			sendResponse(statusFromError(err), false, err, nil, rw)
			return
		}
		for _, s := range semirings {
			res := annotationResult{
				Table:    table,
				Semiring: s.Name,
				Status:   statusSuccess,
				Message:  fmt.Sprintf("annotations of table %q for semiring %q removed", table, s.Name),
			}
			if !removed {
				res.Status = statusNotFound
				res.Message = fmt.Sprintf("no annotations of table %q for semiring %q", table, s.Name)
			}
			results = append(results, res)
		}
	}
	sendResponse(http.StatusOK, true, nil, results, rw)
}

func (a *explainAPI) semirings(rw http.ResponseWriter, r *http.Request) {
	sendResponse(http.StatusOK, true, nil, a.registry.Names(), rw)
}

func (a *explainAPI) health(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	healthy := true
	databases := make(map[string]string, len(conf.GConf.Databases))
	for _, info := range conf.GConf.Databases {
		if err := pingDatabase(ctx, info); err != nil {
			log.WithField("database", info.Name).WithError(err).Error("database health check failed")
			databases[info.Name] = fmt.Sprint(err)
			healthy = false
			continue
		}
		databases[info.Name] = "healthy"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	sendResponse(code, healthy, nil, databases, rw)
}

func pingDatabase(ctx context.Context, info conf.DatabaseInfo) (err error) {
	dsn, err := info.DriverDSN()
	if err != nil {
		return
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return
	}
	defer db.Close()
	return db.PingContext(ctx)
}

func statusFromError(err error) int {
	switch errors.Cause(err) {
	case ErrInvalidAP, rewriter.ErrUnsupportedQuery,
		mapping.ErrInvalidReference, mapping.ErrInvalidEquation:
		return http.StatusBadRequest
	case ErrUnknownSemiring, ErrUnknownDatabase,
		repository.ErrTableOrSchemaNotFound, repository.ErrTableNotAnnotated:
		return http.StatusNotFound
	case rewriter.ErrSemiringOperationNotSupported:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metric.RequestCount.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metric.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// StartAPI starts the API server and returns it. The server serves in
// a background goroutine until StopAPI is called.
func StartAPI(listenAddr string, version string, registry *types.Registry, rw *rewriter.Rewriter) (server *http.Server, err error) {
	router := mux.NewRouter()
	router.Use(metricsMiddleware)
	router.HandleFunc("/version", func(rw http.ResponseWriter, r *http.Request) {
		sendResponse(http.StatusOK, true, nil, map[string]interface{}{
			"version": version,
			"runtime": fmt.Sprintf("%v %v/%v", runtime.Version(), runtime.GOOS, runtime.GOARCH),
		}, rw)
	}).Methods("GET")
	router.Handle("/metrics", metric.Handler()).Methods("GET")

	api := &explainAPI{
		registry: registry,
		rw:       rw,
	}
	apiRouter := router.PathPrefix(apiPrefix).Subrouter()
	apiRouter.HandleFunc("/health", api.health).Methods("GET")
	apiRouter.HandleFunc("/semirings", api.semirings).Methods("GET")
	apiRouter.HandleFunc("/explain", api.explain).Methods("POST")
	apiRouter.HandleFunc("/explain/{semiring}", api.explain).Methods("POST")
	apiRouter.HandleFunc("/annotate", api.annotate).Methods("POST")
	apiRouter.HandleFunc("/annotate/{semiring}", api.annotate).Methods("POST")
	apiRouter.HandleFunc("/annotate", api.removeAnnotation).Methods("DELETE")
	apiRouter.HandleFunc("/annotate/{semiring}", api.removeAnnotation).Methods("DELETE")

	server = &http.Server{
		Addr:         listenAddr,
		WriteTimeout: apiTimeout * 10,
		ReadTimeout:  apiTimeout,
		IdleTimeout:  apiTimeout,
		Handler: handlers.CORS(
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(router),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("start api server failed")
		}
	}()

	return server, err
}

// StopAPI stops a server started by StartAPI and waits for in-flight
// requests to finish.
func StopAPI(server *http.Server) (err error) {
	return server.Shutdown(context.Background())
}
