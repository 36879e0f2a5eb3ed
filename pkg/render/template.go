package render

const latexSource = `\documentclass[a4paper,10pt]{article}
\usepackage[margin=2cm]{geometry}
\usepackage[T1]{fontenc}
\usepackage{lmodern}
\usepackage{booktabs}
\usepackage{longtable}
\usepackage{xcolor}
\usepackage{pgfplots}
\usepackage{pgf-pie}
\pgfplotsset{compat=1.17}
[[- range .Colors ]]
\definecolor{[[ .Name ]]}{HTML}{[[ .Hex ]]}
[[- end ]]

\title{Vulnerability report\\ \large [[ .Title ]][[ if .Subtitle ]]\\ \normalsize\texttt{[[ .Subtitle ]]}[[ end ]]}
\date{[[ .Date ]]}
\author{[[ if .Aggregate ]]Aggregate report[[ else ]]Image report[[ end ]]}

\begin{document}
\maketitle

\section*{Summary}
[[ .Total ]] vulnerabilities, highest severity \textbf{[[ .Highest ]]}.

\begin{tabular}{lrrrrr}
\toprule
CVSS & mean & median & stdev & min & max \\
\midrule
 & [[ score .Stats.Mean ]] & [[ score .Stats.Median ]] & [[ score .Stats.Stdev ]] & [[ score .Stats.Min ]] & [[ score .Stats.Max ]] \\
\bottomrule
\end{tabular}

[[ if .Total -]]
\begin{center}
\begin{tikzpicture}
\pie[radius=2.2, sum=auto, color={green!60!black, yellow!80!black, orange, red}]{
[[- .Distribution.Low ]]/low, [[ .Distribution.Medium ]]/medium, [[ .Distribution.High ]]/high, [[ .Distribution.Critical ]]/critical}
\end{tikzpicture}
\end{center}
[[- end ]]

\section*{Most severe vulnerabilities}
[[ template "vulns" .Top ]]

\section*{Most severe upgradable vulnerabilities}
[[ template "vulns" .TopUpgrade ]]

\section*{Exploitable vulnerabilities}
[[ template "vulns" .Exploitable ]]

\section*{Critical vulnerabilities}
[[ template "vulns" .Critical ]]
[[ if .PerMember ]]
\section*{Most severe vulnerability per image}
\begin{longtable}{p{4.5cm}p{4cm}lr}
\toprule
Image & Vulnerability & Severity & CVSS \\
\midrule
[[- range .PerMember ]]
[[ .Member ]] & [[ .ID ]] & [[ .Severity ]] & [[ score .Score ]] \\
[[- end ]]
\bottomrule
\end{longtable}
[[- end ]]

\section*{Most common CVEs}
[[ if .CommonCVEs -]]
\begin{tabular}{lr}
\toprule
CVE & occurrences \\
\midrule
[[- range .CommonCVEs ]]
[[ .ID ]] & [[ .Count ]] \\
[[- end ]]
\bottomrule
\end{tabular}
[[- else ]]None.[[ end ]]

\section*{Vulnerability age}
\begin{tabular}{lr}
\toprule
Published & vulnerabilities \\
\midrule
[[- range .Cohorts ]]
[[ .Label ]] & [[ .Count ]] \\
[[- end ]]
\bottomrule
\end{tabular}
[[ if .AgePoints ]]
\begin{center}
\begin{tikzpicture}
\begin{axis}[width=0.9\textwidth, height=6cm, xlabel={publication year}, ylabel={CVSS}, ymin=0, ymax=10.5,
  x tick label style={/pgf/number format/1000 sep=}]
[[- range .AgePoints ]]
\addplot[only marks, mark=*, color=[[ .Color ]]] coordinates {([[ num .X ]],[[ score .Score ]])};
[[- end ]]
\end{axis}
\end{tikzpicture}
\end{center}
[[- end ]]

\section*{Trend}
\begin{center}
\begin{tikzpicture}
\begin{axis}[width=0.9\textwidth, height=6cm, xlabel={report date}, ylabel={CVSS}, ymin=0, ymax=10.5,
  legend pos=south east, x tick label style={/pgf/number format/1000 sep=}]
\addplot[only marks, mark=*, blue] coordinates {
[[- range .Trend ]] ([[ num .X ]],[[ score .Mean ]])[[ end ]]};
\addlegendentry{mean}
\addplot[only marks, mark=triangle*, red] coordinates {
[[- range .Trend ]] ([[ num .X ]],[[ score .Max ]])[[ end ]]};
\addlegendentry{max}
\end{axis}
\end{tikzpicture}
\end{center}
[[ if .UpgradePaths ]]
\section*{Suggested upgrades}
\begin{itemize}
[[- range .UpgradePaths ]]
\item \texttt{[[ . ]]}
[[- end ]]
\end{itemize}
[[- end ]]
[[ if .Dockerfile ]]
\section*{Dockerfile instructions introducing vulnerabilities}
\begin{itemize}
[[- range .Dockerfile ]]
\item \texttt{[[ . ]]}
[[- end ]]
\end{itemize}
[[- end ]]

\end{document}
[[ define "vulns" ]]
[[- if . -]]
\begin{longtable}{p{3.8cm}p{5.5cm}p{3cm}lr}
\toprule
Id & Title & Package & Severity & CVSS \\
\midrule
[[- range . ]]
[[ .ID ]] & [[ .Title ]] & [[ .Package ]] & [[ .Severity ]] & [[ score .Score ]] \\
[[- end ]]
\bottomrule
\end{longtable}
[[- else ]]None.[[ end ]]
[[- end ]]
`
