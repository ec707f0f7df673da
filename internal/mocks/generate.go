package mocks

//go:generate mockery --name LedgerStore --srcpkg github.com/strata-dw/strata/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name DimensionStore --srcpkg github.com/strata-dw/strata/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name BucketStore --srcpkg github.com/strata-dw/strata/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
