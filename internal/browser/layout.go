package browser

import "github.com/chromedp/chromedp/kb"

// Layout holds the portal landmarks the session navigates by. Tile
// locators are templates: {municipality}, {period} and {year} are replaced
// with XPath string literals before use.
type Layout struct {
	LoginForm         Locator
	UsernameField     Locator
	PasswordField     Locator
	LoginButton       Locator
	LoginError        Locator
	PostLoginLandmark Locator

	MunicipalityTile Locator
	PeriodTile       Locator
	ExerciseTile     Locator
	ReportsPanelKey  string
	ReportsPanel     Locator
	FavoritesLink    Locator
	FavoritesPage    Locator

	ExecutionsButton  Locator
	ExecutionsDialog  Locator
	ExecutionsRefresh Locator
	DownloadButtons   Locator
	ExecutionsClose   Locator
}

// F8 as sent through the DevTools key event API
const keyF8 = ""

// DefaultLayout describes the hosted accounting portal
func DefaultLayout() Layout {
	return Layout{
		LoginForm:         CSS("form[name='loginForm']"),
		UsernameField:     ID("usuario"),
		PasswordField:     ID("senha"),
		LoginButton:       ID("btnEntrar"),
		LoginError:        CSS(".alert-danger.login-erro"),
		PostLoginLandmark: CSS(".selecao-entidade"),

		MunicipalityTile: XPath("//div[contains(@class,'tile-entidade')][normalize-space(.//span[@class='nome'])={municipality}]"),
		PeriodTile:       XPath("//div[contains(@class,'tile-ppa')][normalize-space(.//span[@class='periodo'])={period}]"),
		ExerciseTile:     XPath("//div[contains(@class,'tile-exercicio')][normalize-space(.//span[@class='ano'])={year}]"),
		ReportsPanelKey:  kb.F8,
		ReportsPanel:     CSS("#painelRelatorios"),
		FavoritesLink:    XPath("//a[normalize-space()='Relatórios Favoritos']"),
		FavoritesPage:    CSS(".relatorios-favoritos"),

		ExecutionsButton:  ID("btnMinhasExecucoes"),
		ExecutionsDialog:  CSS(".modal-execucoes"),
		ExecutionsRefresh: CSS(".modal-execucoes .btn-atualizar"),
		DownloadButtons:   CSS(".modal-execucoes .btn-download-resultado"),
		ExecutionsClose:   CSS(".modal-execucoes .close"),
	}
}
