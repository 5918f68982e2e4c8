package otfassess

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nsip/otf-assess/internal/assessment"
	"github.com/nsip/otf-assess/internal/content"
	"github.com/nsip/otf-assess/internal/index"
	"github.com/nsip/otf-assess/internal/qmap"
	"github.com/nsip/otf-assess/internal/store"
	"github.com/nsip/otf-assess/internal/util"
	"github.com/pkg/errors"
)

type OtfAssessService struct {
	// embedded web server to handle sync requests
	e *echo.Echo
	// the unique name of this service when running multiple instances
	serviceName string
	// the unique id of this service when running multiple instances
	serviceID string
	// the host address this service instance is running on
	serviceHost string
	// the port that this service instance is running on
	servicePort int
	// directory holding the persisted question map and package library,
	// state is kept in memory only when empty
	stateDir string
	// verbosity of the service log
	logLevel log.Lvl
	// largest index document accepted in a request body, e.g. 8M
	bodyLimit string

	log *log.Logger
	// derives package trees from request bodies; quiet, the
	// coordinator reports irregular content when it parses again
	parser *index.Parser
	be     *store.Memory
	lib    *content.Library
	coord  *qmap.Coordinator
}

//
// create a new service instance
//
func New(options ...Option) (*OtfAssessService, error) {

	srvc := OtfAssessService{logLevel: log.INFO, bodyLimit: defaultBodyLimit}

	if err := srvc.setOptions(options...); err != nil {
		return nil, err
	}

	srvc.log = log.New(srvc.serviceName)
	srvc.log.SetLevel(srvc.logLevel)
	quiet := log.New(srvc.serviceName)
	quiet.SetLevel(log.ERROR)
	srvc.parser = index.NewParser(quiet)

	if err := srvc.openState(); err != nil {
		return nil, err
	}
	srvc.coord = qmap.NewCoordinator(srvc.be, qmap.WithLogger(srvc.log))

	srvc.e = echo.New()
	srvc.e.HideBanner = true
	srvc.e.Logger.SetLevel(srvc.logLevel)
	// add pingable method to know we're up
	srvc.e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, "OK")
	})
	// index documents arrive in request bodies, cap their size
	pkgs := srvc.e.Group("/packages", middleware.BodyLimit(srvc.bodyLimit))
	pkgs.GET("", srvc.listPackages)
	pkgs.POST("/:ntiid", srvc.buildSyncHandler())
	pkgs.PUT("/:ntiid", srvc.modifyPackage)
	pkgs.DELETE("/:ntiid", srvc.removePackage)
	pkgs.GET("/:ntiid/items", srvc.packageItems)
	srvc.e.GET("/items/:kind/:ntiid", srvc.getItem)
	srvc.e.PUT("/items/:kind/:ntiid/lock", srvc.lockHandler(true))
	srvc.e.DELETE("/items/:kind/:ntiid/lock", srvc.lockHandler(false))

	return &srvc, nil
}

func (s *OtfAssessService) openState() error {
	if s.stateDir == "" {
		s.be = store.NewMemory()
		s.lib = content.NewLibrary()
		return nil
	}
	if err := os.MkdirAll(s.stateDir, 0755); err != nil {
		return errors.Wrapf(err, "cannot create state directory %s", s.stateDir)
	}
	be, err := store.Open(filepath.Join(s.stateDir, "qmap.json"))
	if err != nil {
		return err
	}
	lib, err := content.OpenLibrary(filepath.Join(s.stateDir, "packages.json"))
	if err != nil {
		return err
	}
	s.be, s.lib = be, lib
	return nil
}

//
// start the service running
//
func (s *OtfAssessService) Start() {

	address := fmt.Sprintf("%s:%d", s.serviceHost, s.servicePort)
	go func(addr string) {
		if err := s.e.Start(addr); err != nil {
			s.e.Logger.Info("error starting server: ", err, ", shutting down...")
			// attempt clean shutdown by raising sig int
			p, _ := os.FindProcess(os.Getpid())
			p.Signal(os.Interrupt)
		}
	}(address)

}

//
// creates the package sync method
// the request body is the package's assessment index (json), unless
// the source param names a url to fetch it from.
// lastModified: RFC3339 modification time of the index, optional
// resync: re-apply the index even if the package is current
//
func (s *OtfAssessService) buildSyncHandler() echo.HandlerFunc {

	return func(c echo.Context) error {
		ntiid, err := pathParam(c, "ntiid")
		if err != nil {
			return err
		}
		src, pkg, err := s.readSource(c, ntiid)
		if err != nil {
			return err
		}

		run := s.coord.SyncAdd
		if resync, _ := strconv.ParseBool(c.QueryParam("resync")); resync {
			run = s.coord.Resync
		}
		res, err := run(pkg, src)
		if err != nil {
			return s.syncError(err)
		}

		s.lib.Put(pkg)
		if err := s.lib.Save(); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, s.response(res))
	}
}

func (s *OtfAssessService) modifyPackage(c echo.Context) error {
	ntiid, err := pathParam(c, "ntiid")
	if err != nil {
		return err
	}
	original, ok := s.lib.Get(ntiid)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown package "+ntiid)
	}
	src, updated, err := s.readSource(c, ntiid)
	if err != nil {
		return err
	}

	res, err := s.coord.SyncModify(original, updated, src)
	if err != nil {
		return s.syncError(err)
	}

	s.lib.Put(updated)
	if err := s.lib.Save(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.response(res))
}

func (s *OtfAssessService) removePackage(c echo.Context) error {
	ntiid, err := pathParam(c, "ntiid")
	if err != nil {
		return err
	}
	pkg, ok := s.lib.Get(ntiid)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown package "+ntiid)
	}
	force, _ := strconv.ParseBool(c.QueryParam("force"))

	res, err := s.coord.SyncRemove(pkg, force)
	if err != nil {
		return s.syncError(err)
	}

	s.lib.Delete(ntiid)
	if err := s.lib.Save(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"package":           res.Package,
		"removed":           res.RemovedIDs(),
		"locked":            res.Locked,
		"items":             res.Items,
		"assessServiceID":   s.serviceID,
		"assessServiceName": s.serviceName,
	})
}

func (s *OtfAssessService) listPackages(c echo.Context) error {
	return c.JSON(http.StatusOK, s.lib.IDs())
}

func (s *OtfAssessService) packageItems(c echo.Context) error {
	ntiid, err := pathParam(c, "ntiid")
	if err != nil {
		return err
	}
	pkg, ok := s.lib.Get(ntiid)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown package "+ntiid)
	}
	items := s.coord.Reachable(pkg)
	out := make([]ItemView, 0, len(items))
	for _, item := range items {
		out = append(out, s.view(item))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *OtfAssessService) getItem(c echo.Context) error {
	item, err := s.itemParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(item))
}

//
// lockHandler marks an item as edited by an instructor (or clears the
// mark). Locked items survive syncs unchanged. The change is recorded
// in the item's audit trail under the principal query param.
//
func (s *OtfAssessService) lockHandler(locked bool) echo.HandlerFunc {
	action := "unlock"
	if locked {
		action = "lock"
	}
	return func(c echo.Context) error {
		item, err := s.itemParam(c)
		if err != nil {
			return err
		}
		err = s.be.Atomic(func() error {
			item.Locked = locked
			if id, ok := s.be.QueryID(item); ok {
				s.be.Record(id, store.AuditEntry{
					Time:      time.Now(),
					Principal: c.QueryParam("principal"),
					Action:    action,
				})
			}
			return nil
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, s.view(item))
	}
}

func (s *OtfAssessService) itemParam(c echo.Context) (*assessment.Item, error) {
	k, err := pathParam(c, "kind")
	if err != nil {
		return nil, err
	}
	kind, ok := assessment.ParseKind(k)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unknown assessment kind "+k)
	}
	ntiid, err := pathParam(c, "ntiid")
	if err != nil {
		return nil, err
	}
	item, ok := s.be.Lookup(kind, ntiid)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no %s registered as %s", kind, ntiid))
	}
	return item, nil
}

//
// readSource returns the index carried by the request, and the package
// tree derived from it.
//
func (s *OtfAssessService) readSource(c echo.Context, ntiid string) (index.Source, *content.Unit, error) {

	var src index.Source
	var err error
	if from := c.QueryParam("source"); from != "" {
		src.Data, src.LastModified, err = util.Fetch(http.MethodGet, from, map[string]string{"Accept": "application/json"}, nil)
		if err != nil {
			return src, nil, echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	} else {
		src.Data, err = ioutil.ReadAll(c.Request().Body)
		if err != nil {
			return src, nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	if lm := c.QueryParam("lastModified"); lm != "" {
		src.LastModified, err = time.Parse(time.RFC3339, lm)
		if err != nil {
			return src, nil, echo.NewHTTPError(http.StatusBadRequest, "lastModified must be RFC3339: "+err.Error())
		}
	}

	idx, err := s.parser.Parse(src.Data)
	if err != nil {
		return src, nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return src, content.FromIndex(ntiid, idx), nil
}

func (s *OtfAssessService) syncError(err error) error {
	s.log.Error(err)
	switch {
	case errors.Is(err, index.ErrMalformedIndex):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, qmap.ErrMissingDependency):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, qmap.ErrConsistencyViolation), errors.Is(err, qmap.ErrKindConflict),
		errors.Is(err, assessment.ErrDuplicateRegistration):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *OtfAssessService) response(res *qmap.SyncResult) map[string]interface{} {
	return map[string]interface{}{
		"passId":            res.PassID,
		"package":           res.Package,
		"skipped":           res.Skipped,
		"asOf":              res.AsOf,
		"added":             res.Added(),
		"updated":           res.Updated(),
		"locked":            res.Locked(),
		"items":             res.Items,
		"assessServiceID":   s.serviceID,
		"assessServiceName": s.serviceName,
	}
}

// ItemView is an item as served over http.
type ItemView struct {
	*assessment.Item
	IntID     string `json:"intid,omitempty"`
	Published bool   `json:"published"`
}

func (s *OtfAssessService) view(item *assessment.Item) ItemView {
	v := ItemView{Item: item, Published: s.be.IsPublished(item)}
	if id, ok := s.be.QueryID(item); ok {
		v.IntID = s.be.Token(id)
	}
	return v
}

// ntiids carry characters that clients escape in paths
func pathParam(c echo.Context, name string) (string, error) {
	v, err := url.PathUnescape(c.Param(name))
	if err != nil || v == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

//
// shut the server down gracefully
//
func (s *OtfAssessService) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.e.Shutdown(ctx); err != nil {
		fmt.Println("could not shut down server cleanly: ", err)
		s.e.Logger.Fatal(err)
	}

}

func (s *OtfAssessService) PrintConfig() {

	fmt.Println("\n\tOTF-Assess Service Configuration")
	fmt.Println("\t----------------------------------")

	s.printID()
	s.printStateConfig()

}

func (s *OtfAssessService) printID() {
	fmt.Println("\tservice name:\t\t", s.serviceName)
	fmt.Println("\tservice ID:\t\t", s.serviceID)
	fmt.Println("\tservice host:\t\t", s.serviceHost)
	fmt.Println("\tservice port:\t\t", s.servicePort)
}

func (s *OtfAssessService) printStateConfig() {
	dir := s.stateDir
	if dir == "" {
		dir = "(in memory)"
	}
	fmt.Println("\tstate directory:\t", dir)
	fmt.Println("\tpackages:\t\t", len(s.lib.IDs()))
	fmt.Println("\tassessment items:\t", s.be.Len())
}
