package daemon

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/errkind"
	"github.com/nutmon/nutmon/pkg/nut"
	"github.com/nutmon/nutmon/pkg/telemetry"
	"github.com/nutmon/nutmon/pkg/version"
)

func (d *Daemon) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/settings", d.getSettings)
	router.PATCH("/settings", d.updateSettings)
	router.GET("/telemetry/columns", d.getTelemetryColumns)
	router.GET("/telemetry/latest", d.getTelemetryLatest)
	router.GET("/telemetry/range", d.getTelemetryRange)
	router.GET("/telemetry/minmax", d.getTelemetryMinMax)
	router.POST("/wizard/test-connection", d.wizardTestConnection)
	router.POST("/wizard/local-setup", d.wizardLocalSetup)
	router.POST("/wizard/complete", d.wizardComplete)
	router.GET("/nut/state", d.getNUTState)
	router.POST("/critical-alert/test", d.testCriticalAlert)
	router.GET("/events", d.streamEvents)
	router.GET("/version", d.getVersion)

	return router
}

func (d *Daemon) getSettings(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.cfg.Get())
}

func (d *Daemon) updateSettings(c *gin.Context) {
	var p config.Patch
	if err := c.BindJSON(&p); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	merged, err := d.cfg.Update(p)
	if err != nil {
		status := http.StatusInternalServerError
		if errkind.Is(err, errkind.Validation) {
			status = http.StatusBadRequest
		}
		c.IndentedJSON(status, err.Error())
		_ = c.AbortWithError(status, err)
		return
	}

	c.IndentedJSON(http.StatusOK, merged)
}

func (d *Daemon) getTelemetryColumns(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, telemetry.Columns)
}

func (d *Daemon) getTelemetryLatest(c *gin.Context) {
	p, err := d.store.Latest()
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if p == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.IndentedJSON(http.StatusOK, p)
}

func (d *Daemon) getTelemetryRange(c *gin.Context) {
	q := telemetry.RangeQuery{
		Start:     c.Query("start"),
		End:       c.Query("end"),
		MaxPoints: telemetry.DefaultMaxPoints,
	}
	if cols := c.Query("columns"); cols != "" {
		q.Columns = strings.Split(cols, ",")
	}
	// An explicit maxPoints=0 is not "unset": the store clamps it to 1.
	if mp := c.Query("maxPoints"); mp != "" {
		n, err := strconv.Atoi(mp)
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, "maxPoints must be an integer")
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		q.MaxPoints = n
	}

	points, err := d.store.QueryRange(q)
	if err != nil {
		status := http.StatusInternalServerError
		if errkind.Is(err, errkind.InvalidArgument) {
			status = http.StatusBadRequest
		}
		c.IndentedJSON(status, err.Error())
		_ = c.AbortWithError(status, err)
		return
	}
	c.IndentedJSON(http.StatusOK, points)
}

func (d *Daemon) getTelemetryMinMax(c *gin.Context) {
	mm, err := d.store.MinMaxForRange(c.Query("start"), c.Query("end"))
	if err != nil {
		status := http.StatusInternalServerError
		if errkind.Is(err, errkind.InvalidArgument) {
			status = http.StatusBadRequest
		}
		c.IndentedJSON(status, err.Error())
		_ = c.AbortWithError(status, err)
		return
	}
	c.IndentedJSON(http.StatusOK, mm)
}

// TestConnectionRequest carries the wizard's candidate connection
// parameters.
type TestConnectionRequest struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	UPSName   string `json:"upsName"`
	TimeoutMs int    `json:"timeoutMs"`
}

// TestConnectionResponse summarizes what a one-shot probe saw.
type TestConnectionResponse struct {
	VariableCount int    `json:"variableCount"`
	Model         string `json:"model,omitempty"`
	Status        string `json:"status,omitempty"`
}

// wizardTestConnection probes the given server with a throwaway
// connection. The running poller's client is never touched.
func (d *Daemon) wizardTestConnection(c *gin.Context) {
	var req TestConnectionRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	client, err := nut.Connect(nut.ConnectOptions{
		Host:     req.Host,
		Port:     req.Port,
		UPSName:  req.UPSName,
		Username: req.Username,
		Password: req.Password,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errkind.Is(err, errkind.InvalidArgument) {
			status = http.StatusBadRequest
		}
		c.IndentedJSON(status, err.Error())
		_ = c.AbortWithError(status, err)
		return
	}
	defer func() { _ = client.Close() }()

	vars, err := client.ListVariables(req.UPSName)
	if err != nil {
		c.IndentedJSON(http.StatusBadGateway, err.Error())
		_ = c.AbortWithError(http.StatusBadGateway, err)
		return
	}

	c.IndentedJSON(http.StatusOK, TestConnectionResponse{
		VariableCount: len(vars),
		Model:         vars["ups.model"],
		Status:        vars["ups.status"],
	})
}

// LocalSetupRequest names the NUT folder and UPS the wizard wants
// config files written for.
type LocalSetupRequest struct {
	Folder  string `json:"folder"`
	UPSName string `json:"upsName"`
	Driver  string `json:"driver"`
	Port    string `json:"port"`
}

// wizardLocalSetup writes etc/upsd.conf and etc/ups.conf under the
// user's NUT folder so the supervisor can launch local components.
func (d *Daemon) wizardLocalSetup(c *gin.Context) {
	var req LocalSetupRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if req.Driver == "" {
		req.Driver = DefaultDriver
	}

	err := nut.WriteLocalConfig(nut.LocalSetup{
		Folder:  req.Folder,
		UPSName: req.UPSName,
		Driver:  req.Driver,
		Port:    req.Port,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errkind.Is(err, errkind.InvalidArgument) {
			status = http.StatusBadRequest
		}
		c.IndentedJSON(status, err.Error())
		_ = c.AbortWithError(status, err)
		return
	}
	c.IndentedJSON(http.StatusOK, "ok")
}

// wizardComplete marks the wizard done; the poller starts on observing
// the transition through its config subscription.
func (d *Daemon) wizardComplete(c *gin.Context) {
	done := true
	merged, err := d.cfg.Update(config.Patch{Wizard: &config.WizardPatch{Completed: &done}})
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, merged)
}

func (d *Daemon) getNUTState(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"state":      d.poller.State(),
		"staticData": d.poller.StaticData(),
	})
}

func (d *Daemon) testCriticalAlert(c *gin.Context) {
	if err := d.safety.TriggerTest(); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, "ok")
}

// streamEvents bridges the event bus onto an SSE response. The stream
// ends when the client disconnects.
func (d *Daemon) streamEvents(c *gin.Context) {
	ch, cancel := d.hub.Stream()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (d *Daemon) getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"version":   version.Version,
		"gitCommit": version.GitCommit,
	})
}
