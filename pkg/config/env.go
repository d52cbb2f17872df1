package config

// EnvPrefix is the envconfig prefix shared by every variable.
const EnvPrefix = "MEDIAFORGE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "MEDIAFORGE_DB_DSN"
	EnvDBHost = "MEDIAFORGE_DB_HOST"
	EnvDBUser = "MEDIAFORGE_DB_USER"
	EnvDBName = "MEDIAFORGE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
