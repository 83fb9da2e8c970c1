package health

import (
	"fmt"
	"net/http"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
	"github.com/Financial-Times/service-status-go/gtg"
)

const panicGuide = "https://github.com/Financial-Times/wbgapi-catalog/blob/master/README.md"

type service interface {
	Endpoint() string
	GTG() error
}

type HealthService struct {
	fthealth.HealthCheck
	worldBankAPI service
	sourceAPI    service
}

func NewHealthService(appSystemCode string, appName string, appDescription string, worldBankAPI service, sourceAPI service) *HealthService {
	hcService := &HealthService{
		worldBankAPI: worldBankAPI,
		sourceAPI:    sourceAPI,
	}
	hcService.SystemCode = appSystemCode
	hcService.Name = appName
	hcService.Description = appDescription
	hcService.Checks = []fthealth.Check{
		hcService.worldBankAPICheck(),
		hcService.defaultDatabaseCheck(),
	}
	return hcService
}

func (service *HealthService) HealthCheckHandleFunc() func(w http.ResponseWriter, r *http.Request) {
	return fthealth.Handler(service)
}

func (service *HealthService) worldBankAPICheck() fthealth.Check {
	return fthealth.Check{
		ID:               "check-world-bank-api-health",
		BusinessImpact:   "Impossible to serve lending groups and databases of the World Bank catalog",
		Name:             "Check World Bank API Health",
		PanicGuide:       panicGuide,
		Severity:         1,
		TechnicalSummary: fmt.Sprintf("World Bank API is not available at %v", service.worldBankAPI.Endpoint()),
		Checker:          service.worldBankAPIChecker,
	}
}

func (service *HealthService) worldBankAPIChecker() (string, error) {
	if err := service.worldBankAPI.GTG(); err != nil {
		return "", err
	}
	return "World Bank API is healthy", nil
}

func (service *HealthService) defaultDatabaseCheck() fthealth.Check {
	return fthealth.Check{
		ID:               "check-default-database-concepts",
		BusinessImpact:   "Impossible to serve concepts and features of the default database",
		Name:             "Check Default Database Concepts",
		PanicGuide:       panicGuide,
		Severity:         2,
		TechnicalSummary: fmt.Sprintf("Concepts of the default database cannot be read from %v", service.sourceAPI.Endpoint()),
		Checker:          service.defaultDatabaseChecker,
	}
}

func (service *HealthService) defaultDatabaseChecker() (string, error) {
	if err := service.sourceAPI.GTG(); err != nil {
		return "", err
	}
	return "Default database concepts are readable", nil
}

func (service *HealthService) GTG() gtg.Status {
	for _, check := range service.Checks {
		if _, err := check.Checker(); err != nil {
			return gtg.Status{GoodToGo: false, Message: err.Error()}
		}
	}
	return gtg.Status{GoodToGo: true}
}
