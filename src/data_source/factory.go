package datasource

import (
	"fmt"

	"market-feed/src/data_source/synthetic"
	"market-feed/src/data_source/yahoo"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"
)

// NewSource builds the source named by srcCfg.Type.
func NewSource(cfg models.MDataSourceConfig, srcCfg models.MSourceConfig, netMgr interfaces.INetworkManager, log *logger.Logger) (interfaces.IFeedSource, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if srcCfg.Name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	named := log.Named(srcCfg.Name)

	switch srcCfg.Type {
	case "synthetic", "":
		return synthetic.NewSyntheticSource(cfg, srcCfg, named), nil
	case "yahoo":
		if netMgr == nil {
			return nil, fmt.Errorf("source %s: yahoo needs a network manager", srcCfg.Name)
		}
		return yahoo.NewYahooFinanceSource(cfg, srcCfg, netMgr, named), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", srcCfg.Type)
	}
}

// SourceType names the kind of a source built by NewSource.
func SourceType(src interfaces.IFeedSource) string {
	switch src.(type) {
	case *synthetic.SyntheticSource:
		return "synthetic"
	case *yahoo.YahooFinanceSource:
		return "yahoo"
	default:
		return "unknown"
	}
}
