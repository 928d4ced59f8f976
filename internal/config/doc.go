// Package config loads brandnexus settings from a config file, environment
// variables and built-in defaults using viper.
//
// Keys are grouped by component (database, index, watch, schedule, search,
// cache, classifier, embedding, logging, metrics). Any key can be
// overridden from the environment by upper-casing it, replacing dots with
// underscores and adding the BRANDNEXUS_ prefix:
//
//	BRANDNEXUS_EMBEDDING_PROVIDER=local
//	BRANDNEXUS_ROOTS=/srv/brand,/srv/marketing
package config
