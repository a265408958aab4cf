// Package docs provides generated OpenAPI documentation.
//
// brieflink API
//
//	@title			brieflink API
//	@version		1.0
//	@description	OCR batch pipeline for legal PDFs and deterministic linking of brief references to trial record pages.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/brieflink
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/brieflink/serve.go -o ./swagger --parseDependency --parseInternal
