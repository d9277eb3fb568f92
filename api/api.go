/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/blnkfinance/paywatch"
	"github.com/blnkfinance/paywatch/api/middleware"
	"github.com/blnkfinance/paywatch/config"
	"github.com/blnkfinance/paywatch/internal/apierror"
	"github.com/blnkfinance/paywatch/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Service is the part of *paywatch.Paywatch the HTTP layer drives.
type Service interface {
	CreateIntent(ctx context.Context, req paywatch.CreateIntentRequest) (*model.PaymentIntent, error)
	GetIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error)
	CheckStatus(ctx context.Context, intentID string, hint *paywatch.StatusHint) (*model.StatusResult, error)
	GetIntentByInvoice(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error)
	Watch(ctx context.Context, intentID string) (*model.StatusResult, error)
	Unwatch(intentID string) bool
	PaymentInstructions(ctx context.Context, intent *model.PaymentIntent) (*model.PaymentInstructions, error)
	UpsertSettings(ctx context.Context, settings *model.PaymentSettings) (*model.PaymentSettings, error)
	GetSettings(ctx context.Context, organizationID, asset string) (*model.PaymentSettings, error)
}

type Api struct {
	paywatch Service
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/payment-intents", a.CreatePaymentIntent)
	router.GET("/payment-intents/:id", a.GetPaymentIntent)
	router.POST("/payment-intents/:id/check", a.CheckPaymentIntent)
	router.GET("/payment-intents/:id/instructions", a.GetPaymentInstructions)
	router.POST("/payment-intents/:id/watch", a.WatchPaymentIntent)
	router.DELETE("/payment-intents/:id/watch", a.UnwatchPaymentIntent)

	router.GET("/invoices/:id/payment-intent", a.GetInvoicePaymentIntent)

	router.PUT("/organizations/:id/payment-settings/:asset", a.UpsertPaymentSettings)
	router.GET("/organizations/:id/payment-settings/:asset", a.GetPaymentSettings)

	return a.router
}

func NewAPI(p Service) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Recovery(), gin.Logger())
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{paywatch: p, router: r}
}

// errorStatus maps domain errors onto HTTP statuses. Anything unrecognised
// falls through to the apierror codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, paywatch.ErrIntentNotFound):
		return http.StatusNotFound
	case errors.Is(err, paywatch.ErrUnsupportedAsset),
		errors.Is(err, paywatch.ErrUnsupportedFiatCurrency),
		errors.Is(err, paywatch.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, paywatch.ErrNoAddressesConfigured),
		errors.Is(err, paywatch.ErrOrganizationNotEligible),
		errors.Is(err, paywatch.ErrAddressPoolExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, paywatch.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	}
	return apierror.MapErrorToHTTPStatus(err)
}

func (a Api) respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
