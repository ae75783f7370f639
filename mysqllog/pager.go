package mysqllog

import "strconv"

type Pager struct {
	CurrentPage int
	PageSize    int
}

func NewPager(currentPage, pageSize int) *Pager {
	return &Pager{
		CurrentPage: currentPage,
		PageSize:    pageSize,
	}
}

func (pager *Pager) GetPageSize() int {
	return pager.PageSize
}

func (pager *Pager) GetCurrentPage() int {
	return pager.CurrentPage
}

func (pager *Pager) IncrementPage() {
	pager.CurrentPage++
}

func (pager *Pager) String() string {
	page := pager.CurrentPage
	if page < 1 {
		page = 1
	}
	return "LIMIT " + strconv.Itoa((page-1)*pager.PageSize) + "," + strconv.Itoa(pager.PageSize)
}
