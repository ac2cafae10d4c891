package util

const (
	// package keys
	PackageKey = "package"

	PackageMain     = "main"
	PackageAlbum    = "album"
	PackageAuth     = "auth"
	PackageCatalog  = "catalog"
	PackageGallery  = "gallery"
	PackageIngest   = "ingest"
	PackagePipeline = "pipeline"
	PackageStatic   = "static"
	PackageStorage  = "storage"
	PackageSweep    = "sweep"
	PackageLogs     = "logs"

	// component keys
	ComponentKey = "component"

	ComponentMain          = "main"
	ComponentAlbumService  = "album service"
	ComponentAlbumHandler  = "album handler"
	ComponentPhotoHandler  = "photo handler"
	ComponentAuthGate      = "admin gate"
	ComponentAuthHandler   = "auth handler"
	ComponentCatalog       = "catalog"
	ComponentGallery       = "gallery"
	ComponentIngestor      = "ingestor"
	ComponentUploadHandler = "upload handler"
	ComponentAdminHandler  = "admin handler"
	ComponentProcessor     = "rendition processor"
	ComponentMetadata      = "metadata extractor"
	ComponentStatic        = "static handler"
	ComponentLocalStore    = "local store"
	ComponentMinioStore    = "minio store"
	ComponentSweeper       = "sweeper"
	ComponentLogsHandler   = "logs handler"

	// service keys
	ServiceKey = "service"

	ServicePortfolio = "portfolio"
)
