package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ElfErrors      *prometheus.CounterVec
	KnownSymbols   prometheus.Counter
	UnknownSymbols prometheus.Counter
	CodeInfoMisses prometheus.Counter
	CacheMisses    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ElfErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symres_elf_errors_total",
			Help: "Total number of errors while trying to open an elf file",
		}, []string{"error"}),
		KnownSymbols: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symres_known_symbols_total",
			Help: "Total number of successfully resolved addresses",
		}),
		UnknownSymbols: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symres_unknown_symbols_total",
			Help: "Total number of addresses with no owning symbol",
		}),
		CodeInfoMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symres_code_info_misses_total",
			Help: "Total number of addresses with no source location in debug info",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symres_resolver_cache_misses_total",
			Help: "Total number of resolver constructions not served from cache",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ElfErrors,
			m.KnownSymbols,
			m.UnknownSymbols,
			m.CodeInfoMisses,
			m.CacheMisses,
		)
	}

	return m
}
