package stats

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"neurolab/internal/dataset"
)

// regress fits target ~ intercept + remaining numeric columns by ordinary
// least squares over complete-case rows (rows with every involved cell
// valid and finite; the exclusion count is recorded).
//
// The design matrix rank is checked before solving. Rank deficiency —
// collinear predictors or too few rows — is reported as
// singular_design_matrix with nil coefficients; it never fails the run.
func regress(ds *dataset.Dataset, target string) *Regression {
	reg := &Regression{Target: target}

	names := ds.NumericColumns()
	targetFound := false
	var predictors []string
	for _, n := range names {
		if n == target {
			targetFound = true
		} else {
			predictors = append(predictors, n)
		}
	}
	if !targetFound {
		reg.FailureReason = ReasonTargetNotFound
		return reg
	}
	reg.Predictors = predictors
	if len(predictors) == 0 {
		reg.FailureReason = ReasonNoPredictors
		return reg
	}

	// Complete-case rows across target and predictors.
	involved := append([]string{target}, predictors...)
	colVals := make([][]float64, len(involved))
	colOK := make([][]bool, len(involved))
	for i, name := range involved {
		v, valid, _ := ds.FloatColumn(name)
		ok := make([]bool, len(v))
		for r := range v {
			ok[r] = valid[r] && finite(v[r])
		}
		colVals[i] = v
		colOK[i] = ok
	}
	var rows []int
	for r := 0; r < ds.NumRows(); r++ {
		all := true
		for i := range involved {
			if !colOK[i][r] {
				all = false
				break
			}
		}
		if all {
			rows = append(rows, r)
		}
	}
	reg.ExcludedRows = ds.NumRows() - len(rows)

	n := len(rows)
	p := len(predictors)
	ncoef := p + 1
	if n < ncoef {
		reg.FailureReason = ReasonSingular
		return reg
	}

	xData := make([]float64, n*ncoef)
	yData := make([]float64, n)
	for i, r := range rows {
		xData[i*ncoef] = 1
		for j := 0; j < p; j++ {
			xData[i*ncoef+1+j] = colVals[1+j][r]
		}
		yData[i] = colVals[0][r]
	}
	X := mat.NewDense(n, ncoef, xData)
	y := mat.NewVecDense(n, yData)

	if rank(X) < ncoef {
		reg.FailureReason = ReasonSingular
		return reg
	}

	dof := n - ncoef
	if dof < 1 {
		reg.FailureReason = ReasonInsufficientDF
		return reg
	}

	var qr mat.QR
	qr.Factorize(X)
	beta := mat.NewDense(ncoef, 1, nil)
	if err := qr.SolveTo(beta, false, y); err != nil {
		reg.FailureReason = ReasonSingular
		return reg
	}

	var fitted mat.Dense
	fitted.Mul(X, beta)
	yMean := 0.0
	for _, v := range yData {
		yMean += v
	}
	yMean /= float64(n)
	rss, tss := 0.0, 0.0
	for i := 0; i < n; i++ {
		resid := yData[i] - fitted.At(i, 0)
		rss += resid * resid
		d := yData[i] - yMean
		tss += d * d
	}

	rsq := 0.0
	if tss > 0 {
		rsq = 1 - rss/tss
		if rsq < 0 {
			rsq = 0
		} else if rsq > 1 {
			rsq = 1
		}
	}
	sigma2 := rss / float64(dof)

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		if _, illConditioned := err.(mat.Condition); !illConditioned {
			reg.FailureReason = ReasonSingular
			return reg
		}
	}

	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof)}
	coef := make([]float64, ncoef)
	se := make([]float64, ncoef)
	pv := make([]float64, ncoef)
	for k := 0; k < ncoef; k++ {
		coef[k] = beta.At(k, 0)
		v := sigma2 * inv.At(k, k)
		if v < 0 {
			v = 0
		}
		se[k] = math.Sqrt(v)
		switch {
		case se[k] > 0:
			t := coef[k] / se[k]
			pv[k] = 2 * tdist.CDF(-math.Abs(t))
		case coef[k] == 0:
			pv[k] = 1
		default:
			// Exact fit: zero residual variance, nonzero coefficient.
			pv[k] = 0
		}
	}

	reg.Coefficients = coef
	reg.StdErrors = se
	reg.PValues = pv
	reg.RSquared = &rsq
	return reg
}

// rank counts singular values above the LAPACK-style tolerance
// eps * max(dim) * largest singular value.
func rank(X mat.Matrix) int {
	var svd mat.SVD
	if !svd.Factorize(X, mat.SVDNone) {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0
	}
	r, c := X.Dims()
	dim := r
	if c > dim {
		dim = c
	}
	eps := math.Nextafter(1, 2) - 1
	tol := float64(dim) * eps * values[0]
	rank := 0
	for _, s := range values {
		if s > tol {
			rank++
		}
	}
	return rank
}
